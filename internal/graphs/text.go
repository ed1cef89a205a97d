package graphs

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// TextName is the catalog name of the text graph
const TextName = "text"

const (
	sectionTitle = "title"
	sectionStats = "stats"
)

// TextInput is the input of the text graph
type TextInput struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// TextStats counts the parts of a text
type TextStats struct {
	Words int `json:"words"`
	Runes int `json:"runes"`
	Lines int `json:"lines"`
}

// Section is one partial result feeding the report
type Section struct {
	Kind  string     `json:"kind"`
	Title string     `json:"title,omitempty"`
	Stats *TextStats `json:"stats,omitempty"`
}

// TextReport is the output of the text graph
type TextReport struct {
	Title    string    `json:"title"`
	Stats    TextStats `json:"stats"`
	Sections int       `json:"sections"`
}

// Text builds the normalize -> {title, stats} -> report graph
func Text(opts ...orchestration.Option) (orchestration.Executable, error) {
	normalize := orchestration.NewNode("normalize", normalizeText, orchestration.WithParallelAdvances()).
		OnInitialize(func(_ context.Context, props *orchestration.Properties, first TextInput) error {
			props.Set("language", languageTag(first.Language).String())
			return nil
		})

	title := orchestration.NewNode("title", func(_ context.Context, props *orchestration.Properties, in string) (Section, error) {
		tag, _ := orchestration.PropertyAs[string](props, "language")
		return Section{Kind: sectionTitle, Title: cases.Title(languageTag(tag)).String(firstLine(in))}, nil
	})

	stats := orchestration.NewNode("stats", func(_ context.Context, _ *orchestration.Properties, in string) (Section, error) {
		s := countText(in)
		return Section{Kind: sectionStats, Stats: &s}, nil
	})

	report := orchestration.NewBatchNode("report", buildReport, orchestration.AsDeadEnd())

	for _, err := range []error{
		orchestration.Route(normalize, title, nil),
		orchestration.Route(normalize, stats, nil),
		orchestration.Route(title, report, nil),
		orchestration.Route(stats, report, nil),
	} {
		if err != nil {
			return nil, err
		}
	}

	orch := orchestration.New[TextInput, TextReport](TextName, opts...)
	if err := orch.Register(normalize, title, stats, report); err != nil {
		return nil, err
	}
	if err := orch.SetEntry(normalize); err != nil {
		return nil, err
	}
	if err := orch.SetResult(report); err != nil {
		return nil, err
	}
	return orch, nil
}

func normalizeText(_ context.Context, _ *orchestration.Properties, in TextInput) (string, error) {
	text := norm.NFC.String(in.Text)
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return "", fmt.Errorf("text is empty")
	}
	return strings.Join(out, "\n"), nil
}

func buildReport(_ context.Context, _ *orchestration.Properties, sections []Section) (TextReport, error) {
	report := TextReport{Sections: len(sections)}
	for _, s := range sections {
		switch s.Kind {
		case sectionTitle:
			report.Title = s.Title
		case sectionStats:
			if s.Stats != nil {
				report.Stats = *s.Stats
			}
		}
	}
	return report, nil
}

func countText(s string) TextStats {
	stats := TextStats{Lines: strings.Count(s, "\n") + 1}
	inWord := false
	for _, r := range s {
		stats.Runes++
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			stats.Words++
			inWord = true
		}
	}
	return stats
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func languageTag(s string) language.Tag {
	if s == "" {
		return language.Und
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und
	}
	return tag
}
