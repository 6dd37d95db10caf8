// Command agent is the reference voice-agent CLI: it drives a duplex
// microphone/speaker stream through a ConversationOrchestrator, picking
// providers and budgets from the environment, matching the shape of a
// small always-on desktop assistant (§6 external interfaces).
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/backend/efficient"
	"github.com/aria-voice/aria-core/pkg/backend/premium"
	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/clock"
	"github.com/aria-voice/aria-core/pkg/executor"
	"github.com/aria-voice/aria-core/pkg/ledger"
	"github.com/aria-voice/aria-core/pkg/orchestrator"
	llmProvider "github.com/aria-voice/aria-core/pkg/providers/llm"
	sttProvider "github.com/aria-voice/aria-core/pkg/providers/stt"
	ttsProvider "github.com/aria-voice/aria-core/pkg/providers/tts"
	"github.com/aria-voice/aria-core/pkg/router"
	"github.com/aria-voice/aria-core/pkg/session"
	"github.com/aria-voice/aria-core/pkg/vad"
)

const (
	sampleRate = 16000
	channels   = 1
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := envOr("STT_PROVIDER", "groq")
	llmProviderName := envOr("LLM_PROVIDER", "groq")
	lang := session.Language(envOr("AGENT_LANGUAGE", "en"))
	voice := session.Voice(envOr("AGENT_VOICE", "alloy"))

	sttProv := buildSTT(sttProviderName, groqKey, openaiKey, deepgramKey, assemblyKey)
	llmProv := buildLLM(llmProviderName, groqKey, openaiKey, anthropicKey, googleKey)

	if lokutorKey == "" {
		log.Fatal("LOKUTOR_API_KEY must be set")
	}
	ttsProv := ttsProvider.NewLokutorTTS(lokutorKey)

	sess := session.New()
	sess.SetLanguage(lang)
	sess.SetVoice(voice)
	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	sess.SetSystemPrompt(systemPrompt)

	sysClock := clock.System{}
	dailyBudget := envFloat("DAILY_BUDGET", 1.00)
	monthlyBudget := envFloat("MONTHLY_BUDGET", 30.00)
	costs := ledger.New(sysClock, dailyBudget, monthlyBudget)

	tools := catalog.Default.Functions()

	blocked := splitEnvList("AGENT_BLOCKED_FUNCTIONS")
	requireConfirm := splitEnvList("AGENT_CONFIRM_FUNCTIONS")
	if len(requireConfirm) == 0 {
		requireConfirm = []string{"delete_file", "run_shell_command"}
	}
	policy := executor.NewPolicy(blocked, requireConfirm)
	exec := executor.New(tools2catalog(tools), policy, executor.WithClock(sysClock), executor.WithConfirm(stdinConfirm))
	execResolve = exec.Resolve

	routerCfg := router.DefaultConfig
	routerCfg.PeakHoursStart = envInt("PEAK_HOURS_START", routerCfg.PeakHoursStart)
	routerCfg.PeakHoursEnd = envInt("PEAK_HOURS_END", routerCfg.PeakHoursEnd)
	r := router.New(costs, sysClock, routerCfg)

	factory := func(mode backend.Mode) (backend.Backend, error) {
		switch mode {
		case backend.ModePremium:
			if openaiKey == "" {
				return nil, fmt.Errorf("OPENAI_API_KEY must be set for the premium backend")
			}
			cfg := premium.Config{
				Instructions: systemPrompt,
				Voice:        voice,
				Language:     lang,
				Temperature:  0.8,
			}
			return premium.New(openaiKey, cfg, tools), nil
		case backend.ModeEfficient:
			return efficient.New(sttProv, llmProv, ttsProv, sess, costs, tools), nil
		default:
			return nil, fmt.Errorf("unknown backend mode %q", mode)
		}
	}

	sink := newSpeakerSink()
	orch := orchestrator.New(factory, r, exec, costs, orchestrator.DefaultConfig(),
		orchestrator.WithSink(sink),
		orchestrator.WithClock(sysClock),
		orchestrator.WithSharedSession(sess),
		orchestrator.WithBargeInTranscriber(sttProv, lang),
	)

	logEvents(orch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx, router.InteractionNone); err != nil {
		log.Fatalf("failed to start orchestrator: %v", err)
	}
	defer orch.Stop()

	device, mctx, err := startAudioDevice(ctx, orch, sink)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()
	defer device.Uninit()

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor | Language=%s\n", sttProviderName, llmProviderName, lang)
	fmt.Println("Voice agent started. Listening to the microphone. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func tools2catalog(fns []catalog.Function) catalog.Catalog {
	c := make(catalog.Catalog, len(fns))
	for _, f := range fns {
		c[f.Name] = f
	}
	return c
}

func buildSTT(name, groqKey, openaiKey, deepgramKey, assemblyKey string) sttProvider.Provider {
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		if deepgramKey == "" {
			log.Fatal("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			log.Fatal("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(assemblyKey)
	default:
		if groqKey == "" {
			log.Fatal("GROQ_API_KEY must be set for groq STT")
		}
		model := envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo")
		return sttProvider.NewGroqSTT(groqKey, model)
	}
}

func buildLLM(name, groqKey, openaiKey, anthropicKey, googleKey string) llmProvider.Provider {
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		if anthropicKey == "" {
			log.Fatal("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		if googleKey == "" {
			log.Fatal("GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	default:
		if groqKey == "" {
			log.Fatal("GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}
}

// stdinConfirm implements executor.ConfirmFunc for a terminal session: it
// prints the prompt and resolves from a line of stdin. Anything other than
// "y" denies, matching the confirmation channel's deny-on-timeout default
// when nobody answers at all.
func stdinConfirm(ctx context.Context, id, name string, arguments map[string]any, description string) {
	go func() {
		fmt.Printf("\nConfirm: %s (y/N)? ", description)
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		approved := len(line) > 0 && (line[0] == 'y' || line[0] == 'Y')
		execResolve(id, approved)
	}()
}

// execResolve is set once the Executor exists; confirm callbacks need it
// but are registered before New returns.
var execResolve func(id string, approved bool) bool

func logEvents(orch *orchestrator.ConversationOrchestrator) {
	orch.On(orchestrator.EventStatus, func(evt orchestrator.Event) {
		p := evt.Payload.(orchestrator.StatusPayload)
		fmt.Printf("\r\033[K[status] %s\n", p.Status)
	})
	orch.On(orchestrator.EventTranscript, func(evt orchestrator.Event) {
		p := evt.Payload.(orchestrator.TranscriptPayload)
		fmt.Printf("\r\033[K[%s] %s\n", p.Role, p.Text)
	})
	orch.On(orchestrator.EventInterrupted, func(evt orchestrator.Event) {
		fmt.Printf("\r\033[K[interrupted] user started talking\n")
	})
	orch.On(orchestrator.EventError, func(evt orchestrator.Event) {
		p := evt.Payload.(orchestrator.ErrorPayload)
		fmt.Printf("\r\033[K[error] %s (fatal=%v)\n", p.Message, p.Fatal)
	})
	orch.On(orchestrator.EventInteractionComplete, func(evt orchestrator.Event) {
		p := evt.Payload.(orchestrator.InteractionCompletePayload)
		fmt.Printf("\r\033[K[done] mode=%s cost=$%.4f\n", p.Mode, p.Cost)
	})
}

// speakerSink buffers synthesized PCM for the malgo playback callback to
// drain; Flush is the end-of-response signal the teacher's own playback
// buffer never needed because it trusted the stream to stay ordered.
type speakerSink struct {
	mu  sync.Mutex
	buf []byte
}

func newSpeakerSink() *speakerSink { return &speakerSink{} }

func (s *speakerSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, pcm...)
	return nil
}

func (s *speakerSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	return nil
}

func (s *speakerSink) drain(out []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(out, s.buf)
	s.buf = s.buf[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// startAudioDevice opens a duplex malgo device: captured frames are pushed
// into the orchestrator and, once a local VAD detects the utterance ended,
// CommitUtterance fires; outbound PCM drains from sink.
func startAudioDevice(ctx context.Context, orch *orchestrator.ConversationOrchestrator, sink *speakerSink) (*malgo.Device, *malgo.AllocatedContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, nil, err
	}

	silenceLimit := envDuration("VAD_SILENCE_TIMEOUT", 3*time.Second)
	detector := vad.NewRMSDetector(0.02, silenceLimit)

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			frame := audio.NewFrame(pInput, sampleRate, channels, time.Now())
			_ = orch.HandleAudioFrame(ctx, frame)

			if evt := detector.Process(pInput); evt != nil && evt.Type == vad.SpeechEnd {
				_ = orch.CommitUtterance(ctx)
			}
		}
		if pOutput != nil {
			sink.drain(pOutput)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		mctx.Uninit()
		return nil, nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, nil, err
	}
	return device, mctx, nil
}
