// Package normalize converts fetched bodies to UTF-8.
//
// Detection uses chardet on the raw bytes. Conversion goes through the
// WHATWG encoding registry, so charsets it does not know, and charsets the
// caller lists as passthrough (Big5 by default), are left unconverted. That
// is a documented limitation and never an error.
package normalize

import (
	"strings"

	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/gif-crawler/internal/metrics"
)

// Outcome labels what Normalize did to a body.
type Outcome string

// Normalization outcomes.
const (
	OutcomeDisabled    Outcome = "disabled"
	OutcomeUTF8        Outcome = "utf8"
	OutcomeConverted   Outcome = "converted"
	OutcomePassthrough Outcome = "passthrough"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeUndetected  Outcome = "undetected"
	OutcomeFailed      Outcome = "failed"
)

// DefaultPassthrough lists charsets left unconverted unless configured otherwise.
var DefaultPassthrough = []string{"Big5"}

// chardet names that the WHATWG registry spells differently.
var aliases = map[string]string{
	"gb-18030": "gb18030",
}

// Config tunes the normalizer.
type Config struct {
	// Passthrough charsets are never converted. Matching ignores case.
	Passthrough []string
	// MinConfidence is the chardet confidence (0-100) below which the
	// Content-Type header and meta tags are consulted instead.
	MinConfidence int
}

// Request describes one body to normalize.
type Request struct {
	Force       bool
	Incoming    string
	ContentType string
}

// Result is the normalized body.
type Result struct {
	Body    []byte
	Charset string
	Outcome Outcome
}

// Normalizer converts bodies to UTF-8. It is safe for concurrent use.
type Normalizer struct {
	passthrough   map[string]struct{}
	minConfidence int
	logger        *zap.Logger
}

// New builds a Normalizer.
func New(cfg Config, logger *zap.Logger) *Normalizer {
	list := cfg.Passthrough
	if list == nil {
		list = DefaultPassthrough
	}
	pt := make(map[string]struct{}, len(list))
	for _, name := range list {
		pt[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		passthrough:   pt,
		minConfidence: cfg.MinConfidence,
		logger:        logger.Named("normalizer"),
	}
}

// Normalize returns body converted per req. The input slice is not modified.
func (n *Normalizer) Normalize(body []byte, req Request) Result {
	if !req.Force {
		return Result{Body: body, Outcome: OutcomeDisabled}
	}

	name := strings.TrimSpace(req.Incoming)
	if name == "" {
		name = n.detect(body, req.ContentType)
		if name == "" {
			n.observe("", OutcomeUndetected)
			return Result{Body: body, Outcome: OutcomeUndetected}
		}
	}
	res := n.convert(body, name)
	n.observe(res.Charset, res.Outcome)
	return res
}

func (n *Normalizer) detect(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	best, err := chardet.NewTextDetector().DetectBest(body)
	if err == nil && best != nil && best.Confidence >= n.minConfidence {
		return best.Charset
	}
	if _, name, certain := charset.DetermineEncoding(body, contentType); certain {
		return name
	}
	if err == nil && best != nil {
		return best.Charset
	}
	return ""
}

func (n *Normalizer) convert(body []byte, name string) Result {
	lower := strings.ToLower(name)
	if lower == "utf-8" || lower == "utf8" || lower == "ascii" || lower == "us-ascii" {
		return Result{Body: body, Charset: name, Outcome: OutcomeUTF8}
	}
	if _, skip := n.passthrough[lower]; skip {
		return Result{Body: body, Charset: name, Outcome: OutcomePassthrough}
	}

	label := lower
	if alias, ok := aliases[lower]; ok {
		label = alias
	}
	enc, canonical := charset.Lookup(label)
	if enc == nil {
		n.logger.Debug("charset not supported, leaving body unconverted", zap.String("charset", name))
		return Result{Body: body, Charset: name, Outcome: OutcomeUnsupported}
	}
	if canonical == "utf-8" {
		return Result{Body: body, Charset: name, Outcome: OutcomeUTF8}
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		n.logger.Debug("charset conversion failed, leaving body unconverted",
			zap.String("charset", name), zap.Error(err))
		return Result{Body: body, Charset: name, Outcome: OutcomeFailed}
	}
	return Result{Body: out, Charset: name, Outcome: OutcomeConverted}
}

func (n *Normalizer) observe(name string, outcome Outcome) {
	metrics.ObserveCharsetConversion(name, string(outcome))
}
