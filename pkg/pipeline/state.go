package pipeline

import (
	"fmt"
	"strings"

	"github.com/mikeboe/research-reporter/pkg/markdown"
)

// Task is the configuration a pipeline run is started with.
type Task struct {
	ResearchID       string `json:"research_id"`
	Query            string `json:"query"`
	Model            string `json:"model"`
	ReportType       string `json:"report_type"`
	ReportSource     string `json:"report_source"`
	Tone             string `json:"tone"`
	Language         string `json:"language,omitempty"`
	Guidelines       string `json:"guidelines,omitempty"`
	FollowGuidelines bool   `json:"follow_guidelines"`
	Verbose          bool   `json:"verbose"`

	// HeaderOverrides replace individual labels of the final report.
	HeaderOverrides *Headers `json:"headers,omitempty"`
}

// Validate rejects tasks a run cannot start from.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Query) == "" {
		return fmt.Errorf("%w: task query is required", ErrInvalidRequest)
	}
	if t.FollowGuidelines && strings.TrimSpace(t.Guidelines) == "" {
		return fmt.Errorf("%w: follow_guidelines is set but no guidelines were given", ErrInvalidRequest)
	}
	return nil
}

// Headers are the structural labels of the final report.
type Headers struct {
	Title           string `json:"title"`
	Date            string `json:"date"`
	Introduction    string `json:"introduction"`
	TableOfContents string `json:"table_of_contents"`
	Conclusion      string `json:"conclusion"`
	References      string `json:"references"`
}

// DefaultHeaders returns the fixed label set used when no guideline revision runs.
func DefaultHeaders(title, language string) Headers {
	if IsCJKLanguage(language) {
		return Headers{
			Title:           title,
			Date:            "日期",
			Introduction:    "引言",
			TableOfContents: "目录",
			Conclusion:      "结论",
			References:      "参考资料",
		}
	}
	return Headers{
		Title:           title,
		Date:            "Date",
		Introduction:    "Introduction",
		TableOfContents: "Table of Contents",
		Conclusion:      "Conclusion",
		References:      "References",
	}
}

// Merge overlays the non-empty fields of o.
func (h Headers) Merge(o Headers) Headers {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&h.Title, o.Title)
	set(&h.Date, o.Date)
	set(&h.Introduction, o.Introduction)
	set(&h.TableOfContents, o.TableOfContents)
	set(&h.Conclusion, o.Conclusion)
	set(&h.References, o.References)
	return h
}

// IsCJKLanguage reports whether a target language name selects CJK labels.
func IsCJKLanguage(language string) bool {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "chinese", "zh", "zh-cn", "zh-tw", "中文":
		return true
	}
	return false
}

// State is the research record threaded through the stages of one run.
// It is owned by a single run and never shared.
type State struct {
	Title           string             `json:"title"`
	Task            Task               `json:"task"`
	ResearchData    []string           `json:"research_data,omitempty"`
	Report          string             `json:"report,omitempty"`
	Introduction    string             `json:"introduction,omitempty"`
	Conclusion      string             `json:"conclusion,omitempty"`
	TableOfContents string             `json:"table_of_contents,omitempty"`
	References      []string           `json:"references,omitempty"`
	Headers         *Headers           `json:"headers,omitempty"`
	Sections        []markdown.Section `json:"sections,omitempty"`
	SourceURLs      []string           `json:"source_urls,omitempty"`
	VisitedURLs     []string           `json:"visited_urls,omitempty"`
	Costs           float64            `json:"costs"`
	Images          []string           `json:"images,omitempty"`
	FinalReport     string             `json:"final_report,omitempty"`

	// Version counts applied updates.
	Version int `json:"version"`
}

// Update is a partial state produced by a stage. Nil fields are left alone.
type Update struct {
	Title           *string
	ResearchData    []string
	Report          *string
	Introduction    *string
	Conclusion      *string
	TableOfContents *string
	References      []string
	Headers         *Headers
	Sections        []markdown.Section
	SourceURLs      []string
	VisitedURLs     []string
	Costs           *float64
	Images          []string
	FinalReport     *string
}

// Apply merges u into the state. Fields u does not carry keep their values.
func (s *State) Apply(u Update) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.ResearchData != nil {
		s.ResearchData = u.ResearchData
	}
	if u.Report != nil {
		s.Report = *u.Report
	}
	if u.Introduction != nil {
		s.Introduction = *u.Introduction
	}
	if u.Conclusion != nil {
		s.Conclusion = *u.Conclusion
	}
	if u.TableOfContents != nil {
		s.TableOfContents = *u.TableOfContents
	}
	if u.References != nil {
		s.References = u.References
	}
	if u.Headers != nil {
		h := *u.Headers
		s.Headers = &h
	}
	if u.Sections != nil {
		s.Sections = u.Sections
	}
	if u.SourceURLs != nil {
		s.SourceURLs = u.SourceURLs
	}
	if u.VisitedURLs != nil {
		s.VisitedURLs = u.VisitedURLs
	}
	if u.Costs != nil {
		s.Costs = *u.Costs
	}
	if u.Images != nil {
		s.Images = u.Images
	}
	if u.FinalReport != nil {
		s.FinalReport = *u.FinalReport
	}
	s.Version++
}

// String returns a pointer to v, for building updates.
func String(v string) *string { return &v }

// Float returns a pointer to v, for building updates.
func Float(v float64) *float64 { return &v }
