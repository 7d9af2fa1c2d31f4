package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lexiqai/speech-sdk/internal/audio"
	"github.com/lexiqai/speech-sdk/internal/connection"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/rest"
	"github.com/lexiqai/speech-sdk/internal/session"
	"github.com/lexiqai/speech-sdk/internal/stt"
	"github.com/lexiqai/speech-sdk/internal/telephony"
	"github.com/lexiqai/speech-sdk/internal/tts"
)

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func (a *app) runRecognize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recognize", flag.ExitOnError)
	in := fs.String("in", "-", "raw audio file, - for stdin")
	encoding := fs.String("encoding", "pcm16", "input encoding: pcm16 or mulaw")
	rate := fs.Int("rate", 16000, "input sample rate in Hz")
	translate := fs.String("translate", "", "comma separated target languages; enables translation")
	phrases := fs.String("phrases", "", "phrase list hints separated by ;")
	interim := fs.Bool("interim", false, "print hypotheses as well as final phrases")
	fs.Parse(args)

	enc, err := audio.ParseEncoding(*encoding)
	if err != nil {
		return err
	}
	src, err := openInput(*in)
	if err != nil {
		return fmt.Errorf("failed to open audio: %w", err)
	}
	defer src.Close()

	reader, err := audio.NewConvertingReader(src, audio.Format{Encoding: enc, SampleRate: *rate, Channels: 1}, audio.RecognitionFormat)
	if err != nil {
		return err
	}

	var scenario connection.Scenario = connection.SpeechScenario{}
	if *translate != "" {
		a.props.Set(properties.TranslationToLanguages, *translate)
		scenario = connection.TranslationScenario{}
	}
	a.props.Set(properties.PhraseList, *phrases)

	sess, err := a.newSession(scenario, session.ModeContinuous, session.Options{
		Audio: audio.RecognitionFormat.AudioInfo(),
	})
	if err != nil {
		return err
	}
	rec := stt.NewRecognizer(sess, a.logger)
	defer rec.Close()

	if err := rec.StartContext(ctx); err != nil {
		return err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for r := range rec.GetTranscription() {
			if !r.IsFinal && !*interim {
				continue
			}
			prefix := "final"
			if !r.IsFinal {
				prefix = "interim"
			}
			fmt.Printf("[%s %7.2fs] %s\n", prefix, r.StartTime, r.Text)
			for lang, text := range r.Translations {
				fmt.Printf("    %s: %s\n", lang, text)
			}
		}
	}()

	buf := make([]byte, a.cfg.AudioChunkSize)
	var sent int64
	for ctx.Err() == nil {
		n, err := reader.Read(buf)
		if n > 0 {
			if sendErr := rec.SendAudio(buf[:n]); sendErr != nil {
				return sendErr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.logger.Info().Int64("bytes", sent).Msg("Audio submitted, waiting for final result")
	err = rec.StopContext(ctx)
	rec.Close()
	<-printed
	return err
}

func (a *app) runSynthesize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("synthesize", flag.ExitOnError)
	text := fs.String("text", "", "text or SSML to speak; read from stdin when empty")
	out := fs.String("out", "", "output file for raw audio (required)")
	voice := fs.String("voice", "en-US-JennyNeural", "voice short name")
	format := fs.String("format", "raw-24khz-16bit-mono-pcm", "service output format")
	telephony := fs.Bool("telephony", false, "convert the audio to 8 kHz mu-law")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	if *text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read text: %w", err)
		}
		*text = strings.TrimSpace(string(data))
	}

	a.props.Set(properties.SynthesisVoice, *voice)
	a.props.Set(properties.SynthesisOutputFormat, *format)

	sess, err := a.newSession(connection.SynthesisScenario{}, session.ModeSingleShot, session.Options{})
	if err != nil {
		return err
	}

	cfg := tts.Config{
		Voice:         *voice,
		Language:      a.cfg.Language,
		ServiceFormat: *format,
	}
	if *telephony {
		f := audio.TelephonyFormat
		cfg.Output = &f
	}
	syn, err := tts.NewSynthesizer(sess, cfg, a.logger)
	if err != nil {
		return err
	}
	defer syn.Close()

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	chunks, err := syn.SynthesizeContext(ctx, *text)
	if err != nil {
		return err
	}

	written := 0
	for c := range chunks {
		if _, err := f.Write(c.Data); err != nil {
			syn.Stop()
			return fmt.Errorf("failed to write audio: %w", err)
		}
		written += len(c.Data)
	}
	if err := syn.Wait(ctx); err != nil {
		return err
	}

	a.logger.Info().Str("file", *out).Int("bytes", written).Msg("Synthesis written")
	return nil
}

func (a *app) runVoices(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	locale := fs.String("locale", "", "only list voices whose locale starts with this prefix")
	fs.Parse(args)

	client, err := rest.NewClient(a.props, a.auth, rest.WithLogger(a.logger))
	if err != nil {
		return err
	}
	voices, err := client.ListVoices(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLOCALE\tGENDER\tTYPE")
	for _, v := range voices {
		if *locale != "" && !strings.HasPrefix(strings.ToLower(v.Locale), strings.ToLower(*locale)) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ShortName, v.Locale, v.Gender, v.VoiceType)
	}
	return w.Flush()
}

func (a *app) runBridge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "listen address for media streams")
	path := fs.String("path", "/streams/media", "WebSocket path for media streams")
	fs.Parse(args)

	bridge := telephony.NewBridge(func(ctx context.Context) (*stt.Recognizer, error) {
		sess, err := a.newSession(connection.SpeechScenario{}, session.ModeContinuous, session.Options{
			Audio: audio.RecognitionFormat.AudioInfo(),
		})
		if err != nil {
			return nil, err
		}
		return stt.NewRecognizer(sess, a.logger), nil
	}, a.logger)

	mux := http.NewServeMux()
	mux.Handle(*path, bridge)
	server := &http.Server{
		Addr:        *addr,
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", *addr).Str("path", *path).Msg("Media bridge listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("bridge server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down media bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
