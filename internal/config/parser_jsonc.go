package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	OutputDir  *string          `json:"output_dir"`
	Capture    *jsoncCapture    `json:"capture"`
	Encryption *jsoncEncryption `json:"encryption"`
	Debug      *jsoncDebug      `json:"debug"`
}

type jsoncCapture struct {
	SampleRate         *float64 `json:"sample_rate"`
	BitDepth           *int     `json:"bit_depth"`
	Channels           *int     `json:"channels"`
	EnableMic          *bool    `json:"enable_mic"`
	EnableSystem       *bool    `json:"enable_system"`
	MicDevice          *string  `json:"mic_device"`
	MaxDurationSeconds *int     `json:"max_duration_seconds"`
}

type jsoncEncryption struct {
	Enable  *bool   `json:"enable"`
	KeyFile *string `json:"key_file"`
}

type jsoncDebug struct {
	DumpDiagnostics *bool `json:"dump_diagnostics"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	payload.applyTo(&cfg)

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if payload.OutputDir != nil {
		cfg.OutputDir = strings.TrimSpace(*payload.OutputDir)
	}

	if c := payload.Capture; c != nil {
		if c.SampleRate != nil {
			cfg.Capture.SampleRate = *c.SampleRate
		}
		if c.BitDepth != nil {
			cfg.Capture.BitDepth = *c.BitDepth
		}
		if c.Channels != nil {
			cfg.Capture.Channels = *c.Channels
		}
		if c.EnableMic != nil {
			cfg.Capture.EnableMic = *c.EnableMic
		}
		if c.EnableSystem != nil {
			cfg.Capture.EnableSystem = *c.EnableSystem
		}
		if c.MicDevice != nil {
			cfg.Capture.MicDevice = strings.TrimSpace(*c.MicDevice)
		}
		if c.MaxDurationSeconds != nil {
			cfg.Capture.MaxDurationSeconds = *c.MaxDurationSeconds
		}
	}

	if e := payload.Encryption; e != nil {
		if e.Enable != nil {
			cfg.Encryption.Enable = *e.Enable
		}
		if e.KeyFile != nil {
			cfg.Encryption.KeyFile = strings.TrimSpace(*e.KeyFile)
		}
	}

	if d := payload.Debug; d != nil && d.DumpDiagnostics != nil {
		cfg.Debug.DumpDiagnostics = *d.DumpDiagnostics
	}
}

// normalizeJSONC strips comments and trailing commas so the result parses
// as strict JSON.
func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' || ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
