// Package backends parses the proxy's backend configuration, resolves
// each entry's host to concrete addresses, and dispatches an SNI host
// name to the chosen backend.
package backends

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

const defaultBackendPort = 443

// DefaultKey is the fallback backend entry consulted when no exact
// host-name match exists.
const DefaultKey = "default"

// BackendConfig is one parsed (not yet resolved) backend entry.
type BackendConfig struct {
	Host string
	Port int
}

// Config is the parsed, unresolved contents of a configuration file.
type Config struct {
	Port     int
	Backends map[string]BackendConfig
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backends: open %s: %w", path, err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig parses the nested-brace configuration grammar:
//
//	port = 443
//	backends {
//	  "example.com" { host = "10.0.0.1"; port = 443 }
//	  "default"     { host = "10.0.0.9" }
//	}
func ParseConfig(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("backends: read config: %w", err)
	}

	p := &parser{toks: tokenize(string(raw))}
	cfg := &Config{Backends: map[string]BackendConfig{}}

	for {
		tok := p.peek()
		if tok.kind == tokEOF {
			break
		}
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		switch key {
		case "port":
			if err := p.expect(tokEq); err != nil {
				return nil, err
			}
			n, err := p.expectInt()
			if err != nil {
				return nil, err
			}
			cfg.Port = n
		case "backends":
			if err := p.expect(tokLBrace); err != nil {
				return nil, err
			}
			if err := p.parseBackendsBlock(cfg.Backends); err != nil {
				return nil, err
			}
			if err := p.expect(tokRBrace); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("backends: unexpected key %q", key)
		}
		p.skipSemi()
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *parser) parseBackendsBlock(out map[string]BackendConfig) error {
	for {
		tok := p.peek()
		if tok.kind == tokRBrace || tok.kind == tokEOF {
			return nil
		}
		name, err := p.expectString()
		if err != nil {
			return err
		}
		if err := p.expect(tokLBrace); err != nil {
			return err
		}
		entry := BackendConfig{}
		for {
			t := p.peek()
			if t.kind == tokRBrace {
				break
			}
			fieldName, err := p.expectIdent()
			if err != nil {
				return err
			}
			if err := p.expect(tokEq); err != nil {
				return err
			}
			switch fieldName {
			case "host":
				v, err := p.expectStringOrIdent()
				if err != nil {
					return err
				}
				entry.Host = v
			case "port":
				v, err := p.expectInt()
				if err != nil {
					return err
				}
				entry.Port = v
			default:
				return fmt.Errorf("backends: unexpected field %q in backend %q", fieldName, name)
			}
			p.skipSemi()
		}
		if err := p.expect(tokRBrace); err != nil {
			return err
		}
		out[name] = entry
		p.skipSemi()
	}
}

// validate checks each backend entry's host and port and defaults an
// unspecified port to defaultBackendPort, aggregating every violation
// into a single joined error rather than stopping at the first.
func validate(cfg *Config) error {
	var errs []error
	if cfg.Port == 0 {
		cfg.Port = defaultBackendPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("backends: listen port %d out of range", cfg.Port))
	}
	if len(cfg.Backends) == 0 {
		errs = append(errs, errors.New("backends: no backends configured"))
	}
	for name, b := range cfg.Backends {
		if b.Host == "" {
			errs = append(errs, fmt.Errorf("backends: backend %q missing host", name))
			continue
		}
		if _, err := netip.ParseAddr(b.Host); err != nil {
			if err := validateHostname(b.Host); err != nil {
				errs = append(errs, fmt.Errorf("backends: backend %q: %w", name, err))
				continue
			}
		}
		if b.Port == 0 {
			b.Port = defaultBackendPort
			cfg.Backends[name] = b
		}
		if b.Port < 1 || b.Port > 65535 {
			errs = append(errs, fmt.Errorf("backends: backend %q port %d out of range", name, b.Port))
		}
	}
	return errors.Join(errs...)
}

// --- tokenizer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInt
	tokLBrace
	tokRBrace
	tokEq
	tokSemi
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) []token {
	var toks []token
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '#':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '{':
			toks = append(toks, token{tokLBrace, "{"})
			i++
		case c == '}':
			toks = append(toks, token{tokRBrace, "}"})
			i++
		case c == '=':
			toks = append(toks, token{tokEq, "="})
			i++
		case c == ';':
			toks = append(toks, token{tokSemi, ";"})
			i++
		case c == '"':
			j := i + 1
			for j < n && src[j] != '"' {
				j++
			}
			toks = append(toks, token{tokString, src[i+1 : j]})
			i = j + 1
		default:
			j := i
			for j < n && !strings.ContainsRune(" \t\r\n{}=;#\"", rune(src[j])) {
				j++
			}
			word := src[i:j]
			if _, err := strconv.Atoi(word); err == nil {
				toks = append(toks, token{tokInt, word})
			} else {
				toks = append(toks, token{tokIdent, word})
			}
			i = j
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) error {
	t := p.next()
	if t.kind != kind {
		return fmt.Errorf("backends: unexpected token %q", t.text)
	}
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return "", fmt.Errorf("backends: expected identifier, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) expectString() (string, error) {
	t := p.next()
	if t.kind != tokString {
		return "", fmt.Errorf("backends: expected quoted string, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) expectStringOrIdent() (string, error) {
	t := p.next()
	if t.kind != tokString && t.kind != tokIdent {
		return "", fmt.Errorf("backends: expected string or bare word, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) expectInt() (int, error) {
	t := p.next()
	if t.kind != tokInt {
		return 0, fmt.Errorf("backends: expected integer, got %q", t.text)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, fmt.Errorf("backends: invalid integer %q", t.text)
	}
	return n, nil
}

func (p *parser) skipSemi() {
	for p.peek().kind == tokSemi {
		p.next()
	}
}
