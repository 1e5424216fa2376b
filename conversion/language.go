package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"harvester/config"
	"harvester/models"
)

// LanguageDetector resolves record languages with the external detection
// service, falling back to an n-gram classifier restricted to the journal's
// expected languages.
type LanguageDetector struct {
	serviceURL string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewLanguageDetector(serviceURL string, logger *slog.Logger) *LanguageDetector {
	return &LanguageDetector{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// resolveLanguages applies the resolution algorithm for one record.
func (e *Engine) resolveLanguages(ctx context.Context, record *models.MetadataRecord, journal *config.JournalParams) {
	// Translator-reported languages, normalized to 3-letter codes.
	var normalized []string
	for _, lang := range record.Languages {
		if code, ok := NormalizeLanguageCode(lang); ok {
			normalized = append(normalized, code)
		}
	}
	record.Languages = normalized

	if journal.LanguageMode == config.LanguageModeForceLanguages {
		record.Languages = append([]string(nil), journal.ExpectedLanguages...)
		return
	}
	if journal.LanguageMode == config.LanguageModeForceFromTranslator || len(journal.ExpectedLanguages) == 0 {
		return
	}

	var detected string
	if len(journal.ExpectedLanguages) == 1 {
		detected = journal.ExpectedLanguages[0]
	} else {
		detected = e.detector.Detect(ctx, sourceText(record, journal.SourceTextFields), journal.ExpectedLanguages)
	}

	if journal.LanguageMode == config.LanguageModeForceDetection {
		if contains(journal.ExpectedLanguages, detected) {
			record.Languages = []string{detected}
		} else {
			record.Languages = nil
		}
		return
	}

	switch len(record.Languages) {
	case 0:
		if detected != "" {
			record.Languages = []string{detected}
		}
	case 1:
		if record.Languages[0] != detected {
			// Conflicting signals; better no language than a wrong one.
			record.Languages = nil
		}
	default:
		record.Languages = nil
	}
}

func sourceText(record *models.MetadataRecord, fields string) string {
	switch fields {
	case "abstract":
		return record.AbstractNote
	case "title+abstract":
		return strings.TrimSpace(record.Title + " " + record.AbstractNote)
	default:
		return record.Title
	}
}

// Detect asks the detection service for the language of the text and falls
// back to the trigram classifier limited to the expected languages.
func (d *LanguageDetector) Detect(ctx context.Context, text string, expected []string) string {
	if text == "" {
		return ""
	}
	if d.serviceURL != "" {
		if code, err := d.detectRemote(ctx, text); err == nil && code != "" {
			return code
		} else if err != nil {
			d.logger.DebugContext(ctx, "language detection service failed, using classifier", "error", err)
		}
	}
	return classifyNGram(text, expected)
}

func (d *LanguageDetector) detectRemote(ctx context.Context, text string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.serviceURL, strings.NewReader(text))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("language detection service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var result struct {
		Language string `json:"language"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	code, _ := NormalizeLanguageCode(result.Language)
	return code, nil
}

// classifyNGram runs the trigram classifier with the whitelist of expected
// languages.
func classifyNGram(text string, expected []string) string {
	whitelist := make(map[whatlanggo.Lang]bool, len(expected))
	for _, code := range expected {
		if lang := whatlanggo.CodeToLang(code); lang != -1 {
			whitelist[lang] = true
		}
	}
	options := whatlanggo.Options{}
	if len(whitelist) > 0 {
		options.Whitelist = whitelist
	}
	// Short titles rarely classify reliably; the whitelisted best guess is
	// still the most useful answer.
	info := whatlanggo.DetectWithOptions(text, options)
	return whatlanggo.LangToString(info.Lang)
}

// NormalizeLanguageCode maps any language designation ("en", "en-US",
// "eng", "English") to its ISO 639-3 code. Unrecognized values are dropped.
func NormalizeLanguageCode(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "", false
	}
	return base.ISO3(), true
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
