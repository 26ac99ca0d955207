package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// ErrUnsupportedLanguage is returned when no requested language is served.
var ErrUnsupportedLanguage = errors.New("unsupported language")

type languageKey struct{}

// ContextWithLanguage stores the negotiated language.
func ContextWithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, languageKey{}, lang)
}

// LanguageFromContext returns the negotiated language or "".
func LanguageFromContext(ctx context.Context) string {
	lang, _ := ctx.Value(languageKey{}).(string)
	return lang
}

// Negotiator picks a response language from the supported set.
type Negotiator struct {
	Default   string
	supported map[language.Base]string
}

// NewNegotiator validates def and supported. def must be one of supported.
func NewNegotiator(def string, supported []string) (*Negotiator, error) {
	n := &Negotiator{supported: make(map[language.Base]string, len(supported))}
	for _, s := range supported {
		base, err := language.ParseBase(s)
		if err != nil {
			return nil, fmt.Errorf("platform/httpx: supported language %q: %w", s, err)
		}
		n.supported[base] = base.String()
	}
	base, err := language.ParseBase(def)
	if err != nil {
		return nil, fmt.Errorf("platform/httpx: default language %q: %w", def, err)
	}
	if _, ok := n.supported[base]; !ok {
		return nil, fmt.Errorf("platform/httpx: default language %q not in supported set", def)
	}
	n.Default = base.String()
	return n, nil
}

// Negotiate returns the first supported language in header, ordered by
// quality. An empty header, or a wildcard when no listed tag is supported,
// selects the default.
func (n *Negotiator) Negotiate(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return n.Default, nil
	}
	bases, wildcard, err := parseLanguageList(header)
	if err != nil {
		return "", err
	}
	for _, base := range bases {
		if lang, ok := n.supported[base]; ok {
			return lang, nil
		}
	}
	if wildcard {
		return n.Default, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, header)
}

// Middleware negotiates the request language. Reads consult Accept-Language
// and writes Content-Language. When negotiation fails the request is
// rejected with 422, or served in the default language if defaultOnInvalid.
func (n *Negotiator) Middleware(defaultOnInvalid bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Accept-Language")
			if isWrite(r.Method) {
				header = r.Header.Get("Content-Language")
			}
			lang, err := n.Negotiate(header)
			if err != nil {
				if !defaultOnInvalid {
					Problem(w, http.StatusUnprocessableEntity, "Invalid Language", err.Error())
					return
				}
				lang = n.Default
			}
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(ContextWithLanguage(r.Context(), lang)))
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type weighted struct {
	base language.Base
	q    float64
}

// parseLanguageList parses an Accept-Language style list into language
// bases, highest quality first and stable within equal quality. Tags whose
// region or script is not recognised still contribute their base. wildcard
// reports a "*" entry with non-zero quality.
func parseLanguageList(header string) (bases []language.Base, wildcard bool, err error) {
	var entries []weighted
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tagText, params, _ := strings.Cut(part, ";")
		q := 1.0
		if params != "" {
			name, value, ok := strings.Cut(strings.TrimSpace(params), "=")
			if !ok || strings.TrimSpace(name) != "q" {
				return nil, false, fmt.Errorf("%w: malformed parameter %q", ErrUnsupportedLanguage, params)
			}
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || parsed < 0 || parsed > 1 {
				return nil, false, fmt.Errorf("%w: malformed quality %q", ErrUnsupportedLanguage, value)
			}
			q = parsed
		}
		tagText = strings.TrimSpace(tagText)
		if tagText == "*" {
			wildcard = wildcard || q > 0
			continue
		}
		base, err := parseBase(tagText)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %q: %w", ErrUnsupportedLanguage, tagText, err)
		}
		if q > 0 {
			entries = append(entries, weighted{base: base, q: q})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].q > entries[j].q })
	bases = make([]language.Base, len(entries))
	for i, e := range entries {
		bases[i] = e.base
	}
	return bases, wildcard, nil
}

func parseBase(text string) (language.Base, error) {
	if tag, err := language.Parse(text); err == nil {
		base, _ := tag.Base()
		return base, nil
	}
	prefix, _, _ := strings.Cut(text, "-")
	return language.ParseBase(prefix)
}
