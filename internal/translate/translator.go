// Package translate proxies text to an upstream translation endpoint with a
// deterministic mocked fallback. Translation is best-effort: callers always
// get usable text back, never an error they must handle.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Translator is a stateless request/response proxy to the upstream endpoint.
type Translator struct {
	upstream string
	client   *http.Client
	logger   *zap.Logger
}

// New creates a translator. An empty upstream means mock-only operation.
func New(upstream string, logger *zap.Logger) *Translator {
	return &Translator{
		upstream: upstream,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type upstreamRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
}

type upstreamResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate returns the translated text. Upstream failures degrade to the
// mocked fallback; they are logged, never surfaced.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) string {
	if text == "" || targetLang == "" {
		return text
	}
	if t.upstream == "" {
		return Mock(text, targetLang)
	}

	out, err := t.callUpstream(ctx, text, targetLang)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("translation upstream failed, using mock",
				zap.String("target_lang", targetLang), zap.Error(err))
		}
		return Mock(text, targetLang)
	}
	return out
}

func (t *Translator) callUpstream(ctx context.Context, text, targetLang string) (string, error) {
	body, err := json.Marshal(upstreamRequest{Text: text, TargetLang: targetLang})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.upstream, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	var parsed upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.TranslatedText == "" {
		return "", fmt.Errorf("upstream returned empty translation")
	}
	return parsed.TranslatedText, nil
}

// mockPhrases holds the canned per-language dictionary used when the
// upstream is unreachable.
var mockPhrases = map[string]map[string]string{
	"es": {"hello": "hola", "goodbye": "adiós", "thank you": "gracias", "yes": "sí", "no": "no"},
	"fr": {"hello": "bonjour", "goodbye": "au revoir", "thank you": "merci", "yes": "oui", "no": "non"},
	"pt": {"hello": "olá", "goodbye": "adeus", "thank you": "obrigado", "yes": "sim", "no": "não"},
	"de": {"hello": "hallo", "goodbye": "auf wiedersehen", "thank you": "danke", "yes": "ja", "no": "nein"},
}

// Mock is the deterministic per-language fallback: known phrases come from
// the canned dictionary, everything else is tagged with the target language
// so the result is stable and visibly mocked.
func Mock(text, targetLang string) string {
	lang := strings.ToLower(targetLang)
	if phrases, ok := mockPhrases[lang]; ok {
		if out, ok := phrases[strings.ToLower(strings.TrimSpace(text))]; ok {
			return out
		}
	}
	return fmt.Sprintf("[%s] %s", lang, text)
}
