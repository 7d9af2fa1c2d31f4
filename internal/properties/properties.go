// Package properties holds the string-keyed settings that drive endpoint
// construction, authentication and per-turn context.
package properties

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PropertyID names a setting.
type PropertyID string

const (
	SubscriptionKey PropertyID = "SpeechServiceConnection_Key"
	AuthToken       PropertyID = "SpeechServiceAuthorization_Token"
	Region          PropertyID = "SpeechServiceConnection_Region"
	Endpoint        PropertyID = "SpeechServiceConnection_Endpoint"
	Host            PropertyID = "SpeechServiceConnection_Host"
	EndpointID      PropertyID = "SpeechServiceConnection_EndpointId"
	ConnectionID    PropertyID = "SpeechServiceConnection_ConnectionId"

	RecognitionLanguage     PropertyID = "SpeechServiceConnection_RecoLanguage"
	RecognitionMode         PropertyID = "SpeechServiceConnection_RecoMode"
	AutoDetectLanguages     PropertyID = "SpeechServiceConnection_AutoDetectSourceLanguages"
	OutputFormat            PropertyID = "SpeechServiceResponse_OutputFormatOption"
	ProfanityOption         PropertyID = "SpeechServiceResponse_ProfanityOption"
	WordLevelTimestamps     PropertyID = "SpeechServiceResponse_RequestWordLevelTimestamps"
	PostProcessingOption    PropertyID = "SpeechServiceResponse_PostProcessingOption"
	StableIntermediate      PropertyID = "SpeechServiceResponse_StablePartialResultThreshold"
	InitialSilenceTimeoutMs PropertyID = "SpeechServiceConnection_InitialSilenceTimeoutMs"
	EndSilenceTimeoutMs     PropertyID = "SpeechServiceConnection_EndSilenceTimeoutMs"
	PhraseList              PropertyID = "SpeechServiceConnection_PhraseList"
	TranslationToLanguages  PropertyID = "SpeechServiceConnection_TranslationToLanguages"
	TranslationVoice        PropertyID = "SpeechServiceConnection_TranslationVoice"
	TranslationFeatures     PropertyID = "SpeechServiceConnection_TranslationFeatures"
	SynthesisVoice          PropertyID = "SpeechServiceConnection_SynthVoice"
	SynthesisOutputFormat   PropertyID = "SpeechServiceConnection_SynthOutputFormat"
	SynthesisLanguage       PropertyID = "SpeechServiceConnection_SynthLanguage"
	ConversationID          PropertyID = "Conversation_Id"
	DialogApplicationID     PropertyID = "Conversation_ApplicationId"
	DialogAPIVersion        PropertyID = "Conversation_ApiVersion"
	ServiceTag              PropertyID = "Speech_ServiceTag"
	TelemetryEnabled        PropertyID = "Speech_TelemetryEnabled"
)

// Bag is read access to a property set.
type Bag interface {
	Get(id PropertyID, def string) string
}

// Collection is a concurrency-safe property set.
type Collection struct {
	mu     sync.RWMutex
	values map[PropertyID]string
}

func NewCollection() *Collection {
	return &Collection{values: make(map[PropertyID]string)}
}

// Get returns the value for id, or def when the property is unset or empty.
func (c *Collection) Get(id PropertyID, def string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[id]; ok && v != "" {
		return v
	}
	return def
}

// Has reports whether id is set to a non-empty value.
func (c *Collection) Has(id PropertyID) bool {
	return c.Get(id, "") != ""
}

// Set stores value. An empty value unsets the property.
func (c *Collection) Set(id PropertyID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[PropertyID]string)
	}
	if value == "" {
		delete(c.values, id)
		return
	}
	c.values[id] = value
}

// Clone returns an independent copy.
func (c *Collection) Clone() *Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Collection{values: make(map[PropertyID]string, len(c.values))}
	for k, v := range c.values {
		out.values[k] = v
	}
	return out
}

// Merge copies every property of other into c, overwriting existing values.
func (c *Collection) Merge(other *Collection) {
	if other == nil || other == c {
		return
	}
	other.mu.RLock()
	pairs := make(map[PropertyID]string, len(other.values))
	for k, v := range other.values {
		pairs[k] = v
	}
	other.mu.RUnlock()

	for k, v := range pairs {
		c.Set(k, v)
	}
}

// Keys returns the set property ids in sorted order.
func (c *Collection) Keys() []PropertyID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]PropertyID, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// LoadYAML merges a flat "PropertyId: value" mapping into c. Non-string
// scalars are kept in their YAML text form.
func (c *Collection) LoadYAML(r io.Reader) error {
	var raw map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to parse properties: %w", err)
	}
	for k, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("property %s must be a scalar", k)
		}
		c.Set(PropertyID(strings.TrimSpace(k)), node.Value)
	}
	return nil
}

// LoadYAMLFile is LoadYAML over the named file.
func (c *Collection) LoadYAMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open properties file: %w", err)
	}
	defer f.Close()
	return c.LoadYAML(f)
}
