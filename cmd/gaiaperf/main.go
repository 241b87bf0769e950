package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/backend"
	"github.com/ent0n29/gaia/internal/chat"
	"github.com/ent0n29/gaia/internal/protocol"
)

var defaultUtterances = []string{
	"Hola, ¿qué es GUAICARAMO?",
	"¿Dónde trabaja la fundación?",
	"Dame un resumen en una frase.",
	"¿Cómo puedo colaborar?",
}

type options struct {
	baseURL     string
	transport   string
	turns       int
	history     int
	wavPath     string
	interTurn   time.Duration
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

type turnResult struct {
	op      string
	elapsed time.Duration
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gaiaperf: %v\n", err)
		os.Exit(2)
	}
	results, err := run(context.Background(), cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gaiaperf: %v\n", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, results)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS, turnTimeoutMS int

	fs := flag.NewFlagSet("gaiaperf", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "gaiad base URL")
	fs.StringVar(&cfg.transport, "transport", "http", "chat transport: http or ws")
	fs.IntVar(&cfg.turns, "turns", 10, "number of chat turns to replay")
	fs.IntVar(&cfg.history, "history", chat.DefaultHistoryLimit, "turns of history sent with each request")
	fs.StringVar(&cfg.wavPath, "wav", "", "optional WAV file transcribed once per turn")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 0, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "per-request timeout in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.transport != "http" && cfg.transport != "ws" {
		return options{}, fmt.Errorf("transport must be http or ws")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.history <= 0 {
		return options{}, fmt.Errorf("history must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurn = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) ([]turnResult, error) {
	api := backend.New(cfg.baseURL)
	var completer chat.Completer = api
	if cfg.transport == "ws" {
		ws := backend.NewWSCompleter(cfg.baseURL)
		defer ws.Close()
		completer = ws
	}

	var clip *audio.Clip
	if cfg.wavPath != "" {
		raw, err := os.ReadFile(cfg.wavPath)
		if err != nil {
			return nil, fmt.Errorf("read wav: %w", err)
		}
		pcm, sampleRate, err := decodeWAVPCM16(raw)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
		if err != nil {
			return nil, err
		}
		clip = &audio.Clip{ID: uuid.NewString(), Data: wav, MimeType: "audio/wav", Duration: audio.PCMDuration(len(pcm), sampleRate)}
		defer clip.Release()
	}

	if cfg.verbose {
		fmt.Fprintf(out, "gaiaperf: base=%s transport=%s turns=%d\n", cfg.baseURL, cfg.transport, cfg.turns)
	}

	var (
		history []protocol.ChatTurn
		results []turnResult
	)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]

		if clip != nil {
			started := time.Now()
			tctx, cancel := context.WithTimeout(ctx, cfg.turnTimeout)
			transcript, err := api.Transcribe(tctx, clip)
			cancel()
			if err != nil {
				return results, fmt.Errorf("turn %d transcribe: %w", i+1, err)
			}
			results = append(results, turnResult{op: "transcribe", elapsed: time.Since(started)})
			if strings.TrimSpace(transcript) != "" {
				text = transcript
			}
		}

		started := time.Now()
		tctx, cancel := context.WithTimeout(ctx, cfg.turnTimeout)
		reply, err := completer.Complete(tctx, history, text)
		cancel()
		if err != nil {
			return results, fmt.Errorf("turn %d complete: %w", i+1, err)
		}
		elapsed := time.Since(started)
		results = append(results, turnResult{op: "complete", elapsed: elapsed})
		if cfg.verbose {
			fmt.Fprintf(out, "gaiaperf: turn %d/%d %dms text=%q reply_chars=%d\n", i+1, cfg.turns, elapsed.Milliseconds(), text, len(reply))
		}

		history = append(history,
			protocol.ChatTurn{Role: "user", Content: text},
			protocol.ChatTurn{Role: "assistant", Content: reply},
		)
		if len(history) > cfg.history {
			history = history[len(history)-cfg.history:]
		}
		if cfg.interTurn > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurn)
		}
	}
	return results, nil
}

func printSummary(w io.Writer, results []turnResult) {
	byOp := make(map[string][]time.Duration)
	for _, r := range results {
		byOp[r.op] = append(byOp[r.op], r.elapsed)
	}
	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		d := byOp[op]
		fmt.Fprintf(w, "%-10s n=%d p50=%dms p95=%dms max=%dms\n", op, len(d),
			percentile(d, 50).Milliseconds(), percentile(d, 95).Milliseconds(), percentile(d, 100).Milliseconds())
	}
}

// percentile uses nearest-rank on a sorted copy.
func percentile(d []time.Duration, p int) time.Duration {
	if len(d) == 0 {
		return 0
	}
	s := append([]time.Duration(nil), d...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	rank := (p*len(s) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(s) {
		rank = len(s)
	}
	return s[rank-1]
}

// decodeWAVPCM16 returns mono PCM16LE and the sample rate; multi-channel
// input is averaged down.
func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if len(pcmData) == 0 {
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	}
	if bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	if frameBytes <= 0 || len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			s := int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2]))
			sum += int(s)
		}
		avg := int16(sum / int(channels))
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(avg))
	}
	return mono, sampleRate, nil
}
