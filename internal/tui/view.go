package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

const levelWidth = 24

// View renders the current screen.
func (m Model) View() string {
	var body string
	if m.screen == screenQuestions {
		body = m.viewQuestions()
	} else {
		body = m.viewPractice()
	}
	if m.errorMessage != "" {
		body += "\n" + errorStyle.Render("! "+m.errorMessage)
	}
	body += "\n" + footerStyle.Render(m.footer())

	if m.width > 0 {
		return lipgloss.NewStyle().Width(m.width).Render(body)
	}
	return body
}

func (m Model) viewQuestions() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Choose a question"))
	b.WriteString("\n\n")
	if len(m.questions) == 0 {
		b.WriteString(mutedStyle.Render("The question bank is empty."))
		return b.String()
	}
	for i, q := range m.questions {
		line := fmt.Sprintf("%-12s %s", q.Type, truncate(q.Prompt, m.promptWidth()))
		if i == m.cursor {
			b.WriteString(selectStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewPractice() string {
	var b strings.Builder
	q := m.question
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s", q.Type, q.Category)))
	b.WriteString("\n")
	b.WriteString(promptStyle.Render(wrap(q.Prompt, m.promptWidth())))
	b.WriteString("\n")
	if len(q.Tips) > 0 {
		b.WriteString(mutedStyle.Render("Tips: " + strings.Join(q.Tips, " · ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	snap := m.snapshot
	state := string(snap.State)
	if m.busy != "" {
		state += " (" + m.busy + "...)"
	}
	b.WriteString(fmt.Sprintf("%s  %s / %s  %s\n",
		stateStyle(string(snap.State)).Render(strings.ToUpper(state)),
		clock(snap.Duration),
		clock(snap.MaxDuration),
		levelBar(snap.Level),
	))
	if snap.State == practice.StateStopped && snap.MIMEType != "" {
		b.WriteString(mutedStyle.Render("Recorded " + snap.MIMEType + ". Press p to get feedback or r to record again."))
		b.WriteString("\n")
	}

	if m.transcription != nil {
		b.WriteString("\n")
		b.WriteString(m.viewTranscription(*m.transcription))
	}
	if m.analysis != nil {
		b.WriteString("\n")
		b.WriteString(m.viewAnalysis(*m.analysis))
	}
	return b.String()
}

func (m Model) viewTranscription(t practice.TranscriptionResult) string {
	if !t.Success {
		return panelStyle.Render(errorStyle.Render("Transcription failed: " + t.Error))
	}
	header := mutedStyle.Render(fmt.Sprintf("Transcript (confidence %.0f%%)", t.Confidence*100))
	return panelStyle.Render(header + "\n" + wrap(t.Transcript, m.promptWidth()))
}

func (m Model) viewAnalysis(a practice.AnswerAnalysis) string {
	var b strings.Builder
	if a.Failed {
		b.WriteString(errorStyle.Render("Feedback unavailable: " + a.FailureReason))
		b.WriteString("\n")
	} else {
		b.WriteString(scoreStyle(a.OverallScore).Render(fmt.Sprintf("Overall %.1f", a.OverallScore)))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("   timing: %s   %.0f wpm   %d fillers",
			a.TimingEfficiency, a.Metrics.WordsPerMinute, a.Metrics.FillerCount)))
		b.WriteString("\n")
		s := a.Scores
		b.WriteString(fmt.Sprintf("fluency %.0f  vocabulary %.0f  grammar %.0f  pronunciation %.0f  relevance %.0f  structure %.0f\n",
			s.Fluency, s.Vocabulary, s.Grammar, s.Pronunciation, s.Relevance, s.Structure))
	}
	writeList(&b, goodStyle, "Strengths", a.Strengths)
	writeList(&b, warnStyle, "Weaknesses", a.Weaknesses)
	writeList(&b, promptStyle, "Suggestions", a.Suggestions)
	if len(a.KeyPointsMissed) > 0 {
		writeList(&b, mutedStyle, "Missed key points", a.KeyPointsMissed)
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func writeList(b *strings.Builder, style lipgloss.Style, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(style.Render(title))
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("  • " + item + "\n")
	}
}

func (m Model) footer() string {
	if m.screen == screenQuestions {
		return "↑/↓ move · enter practice · q quit"
	}
	switch m.snapshot.State {
	case practice.StateIdle:
		return "space record · esc questions · q quit"
	case practice.StateRecording:
		return "space pause · s stop · q quit"
	case practice.StatePaused:
		return "space resume · s stop · q quit"
	case practice.StateStopped:
		return "p get feedback · r record again · esc questions · q quit"
	case practice.StateProcessing:
		return m.spinner.View() + " analyzing your answer..."
	default:
		return "r try again · esc questions · q quit"
	}
}

func (m Model) promptWidth() int {
	if m.width <= 8 {
		return 72
	}
	return m.width - 8
}

func clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func levelBar(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	on := int(level*levelWidth + 0.5)
	return levelOnStyle.Render(strings.Repeat("▮", on)) + mutedStyle.Render(strings.Repeat("▯", levelWidth-on))
}

// truncate 按终端显示宽度截断，中文占两列。
func truncate(s string, width int) string {
	if width <= 1 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func wrap(s string, width int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	lineLen := 0
	for i, w := range words {
		wl := runewidth.StringWidth(w)
		if i > 0 && lineLen+1+wl > width {
			b.WriteString("\n")
			lineLen = 0
		} else if i > 0 {
			b.WriteString(" ")
			lineLen++
		}
		b.WriteString(w)
		lineLen += wl
	}
	return b.String()
}
