package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"locallift/internal/apperr"
)

type ContentType string

const (
	ContentBlog    ContentType = "blog"
	ContentGBPPost ContentType = "gbp_post"
	ContentFAQ     ContentType = "faq"
)

type ContentInput struct {
	BusinessName string
	City         string
	Service      string
	Tone         string
}

func (in ContentInput) header() string {
	return fmt.Sprintf("Business: %s\nCity: %s\nService: %s\nTone: %s\n\n", in.BusinessName, in.City, in.Service, in.Tone)
}

// GenerateContent writes Markdown marketing content of the given type.
func (c *Client) GenerateContent(ctx context.Context, kind ContentType, in ContentInput) (string, error) {
	var system, task string
	switch kind {
	case ContentBlog:
		system = "You are an expert local SEO writer. Produce helpful, unique, locally relevant content in clean Markdown with H2/H3 headings and a short call to action at the end. No keyword stuffing."
		task = "Write an 800-1200 word blog post targeting local search intent with 3-5 specific local references such as neighborhoods, landmarks or seasonal events. Include practical tips. Output Markdown only."
	case ContentGBPPost:
		system = "You write concise, engaging Google Business Profile posts that feel local and useful. Output Markdown only, no hashtags."
		task = "Write a 120-200 word post announcing value for local customers (offer, tip, event or update) with a clear call to action. Output Markdown only."
	case ContentFAQ:
		system = "You write concise, helpful FAQs for local service businesses. Output Markdown with an H3 per question and a short paragraph answer."
		task = fmt.Sprintf("Write 6-10 FAQs customers in %s often ask about %s. Make them locally relevant. Output Markdown only.", in.City, in.Service)
	default:
		return "", fmt.Errorf("%w: unknown content type %q", apperr.ErrInvalidRequest, kind)
	}
	return c.chat(ctx, system, in.header()+task)
}

type ReviewInput struct {
	BusinessName string
	City         string
	Rating       int
	Text         string
}

const reviewReplySystem = `You write respectful, personalized Google review replies. Keep it human, concise (under 120 words) and specific.
For 1-3 stars: apologize and invite private resolution with a concrete next step.
For 4-5 stars: thank them, mention something specific and invite them back. Output plain text only.`

// DraftReviewReply drafts an owner reply to one review.
func (c *Client) DraftReviewReply(ctx context.Context, in ReviewInput) (string, error) {
	user := fmt.Sprintf("Business: %s\nCity: %s\nReview rating: %d\nReview text: %s\n\nWrite one reply under 120 words. Output plain text only.",
		in.BusinessName, in.City, in.Rating, in.Text)
	out, err := c.chat(ctx, reviewReplySystem, user)
	return strings.TrimSpace(out), err
}

type AuditMode string

const (
	AuditConnected AuditMode = "connected"
	AuditQuick     AuditMode = "quick"
)

type AuditInput struct {
	Mode         AuditMode       `json:"mode"`
	BusinessName string          `json:"businessName,omitempty"`
	City         string          `json:"city,omitempty"`
	Category     string          `json:"category,omitempty"`
	URLOrName    string          `json:"urlOrName,omitempty"`
	GBPData      json.RawMessage `json:"gbpData,omitempty"`
}

var auditSections = []string{
	"## Overview\n2-3 sentences summarizing the current state.",
	"## Quick score (0-100)\nA single line like: Score: 78/100",
	"## Priority fixes (next 7 days)\nBullet list of the most critical issues.",
	"## Suggested GBP name\n1-2 SEO-friendly variants of the business name.",
	"## Suggested description\nAround 600-800 characters of optimized business description.",
	"## Post ideas\n5-8 post ideas with titles and one-line angles.",
	"## Image recommendations\n4-6 concrete image ideas that would improve the profile.",
}

// ProfileAudit returns a Markdown audit. The "Quick score" section carries
// a "Score: NN/100" line.
func (c *Client) ProfileAudit(ctx context.Context, in AuditInput) (string, error) {
	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context:\n%s\n\nMode: %s\n", raw, in.Mode)
	if in.Mode == AuditConnected {
		if len(in.GBPData) > 0 {
			b.WriteString("gbpData holds the stored listing. Use it for specific, data-driven recommendations.\n\n")
		}
	} else {
		b.WriteString("Only the URL or name, city and category are known. Generalize from best practices for this type of business.\n\n")
	}
	b.WriteString("Analyze this business profile and return Markdown with these sections:\n\n")
	b.WriteString(strings.Join(auditSections, "\n\n"))
	b.WriteString("\n\nOutput Markdown only.")

	return c.chat(ctx, "You are an expert local SEO and Google Business Profile consultant. Give practical, actionable recommendations.", b.String())
}
