package connection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// HostSuffix returns the sovereign-cloud DNS suffix for a region.
func HostSuffix(region string) string {
	r := strings.ToLower(region)
	switch {
	case strings.HasPrefix(r, "china"):
		return ".azure.cn"
	case strings.HasPrefix(r, "usgov"):
		return ".azure.us"
	}
	return ".microsoft.com"
}

// queryParam maps a property to a wire query parameter. Multi splits the
// property value on commas and emits one parameter per item.
type queryParam struct {
	Property properties.PropertyID
	Name     string
	Multi    bool
	// Transform rewrites the property value; returning "" omits it.
	Transform func(string) string
}

// endpointSpec is the per-scenario URL recipe.
type endpointSpec struct {
	HostPrefix string // e.g. "stt" gives {region}.stt.speech{suffix}
	Subdomain  string // prepended before the region, e.g. "transcribe."
	Path       string
	Params     []queryParam
}

var recognitionParams = []queryParam{
	{Property: properties.RecognitionLanguage, Name: "language"},
	{Property: properties.OutputFormat, Name: "format", Transform: outputFormat},
	{Property: properties.ProfanityOption, Name: "profanity", Transform: strings.ToLower},
	{Property: properties.WordLevelTimestamps, Name: "wordLevelTimestamps", Transform: boolParam},
	{Property: properties.InitialSilenceTimeoutMs, Name: "initialSilenceTimeoutMs"},
	{Property: properties.EndSilenceTimeoutMs, Name: "endSilenceTimeoutMs"},
	{Property: properties.StableIntermediate, Name: "stableIntermediateThreshold"},
	{Property: properties.PostProcessingOption, Name: "postprocessing"},
	{Property: properties.EndpointID, Name: "cid"},
}

func outputFormat(v string) string {
	switch strings.ToLower(v) {
	case "detailed":
		return "detailed"
	case "simple":
		return "simple"
	}
	return ""
}

func boolParam(v string) string {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return "true"
	case "false", "0", "no":
		return "false"
	}
	return ""
}

// buildEndpoint resolves the connection URL. Precedence: an explicit
// Endpoint property, then a Host property, then the region-derived host.
// Query parameters already present in a caller-supplied endpoint are never
// overwritten.
func buildEndpoint(props properties.Bag, spec endpointSpec) (*url.URL, error) {
	var u *url.URL
	switch {
	case props.Get(properties.Endpoint, "") != "":
		parsed, err := url.Parse(props.Get(properties.Endpoint, ""))
		if err != nil {
			return nil, speecherr.InvalidArgument("invalid endpoint %q: %v", props.Get(properties.Endpoint, ""), err)
		}
		u = parsed

	case props.Get(properties.Host, "") != "":
		parsed, err := url.Parse(props.Get(properties.Host, ""))
		if err != nil {
			return nil, speecherr.InvalidArgument("invalid host %q: %v", props.Get(properties.Host, ""), err)
		}
		u = &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: spec.Path}

	case props.Get(properties.Region, "") != "":
		region := props.Get(properties.Region, "")
		u = &url.URL{
			Scheme: "wss",
			Host:   fmt.Sprintf("%s%s.%s.speech%s", spec.Subdomain, region, spec.HostPrefix, HostSuffix(region)),
			Path:   spec.Path,
		}

	default:
		return nil, speecherr.InvalidArgument("one of endpoint, host or region must be set")
	}

	switch u.Scheme {
	case "wss", "ws":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, speecherr.InvalidArgument("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, speecherr.InvalidArgument("endpoint has no host")
	}

	q := u.Query()
	for _, p := range spec.Params {
		if _, present := q[p.Name]; present {
			continue
		}
		raw := props.Get(p.Property, "")
		if raw == "" {
			continue
		}
		values := []string{raw}
		if p.Multi {
			values = splitList(raw)
		}
		for _, v := range values {
			if p.Transform != nil {
				v = p.Transform(v)
			}
			if v != "" {
				q.Add(p.Name, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
