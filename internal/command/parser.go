package command

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parse maps a transcript to a [Command]. It is pure and deterministic: no
// I/O, no clock access; the reference time for relative due dates is passed
// in by the caller.
//
// Patterns are tried in order; the first match wins. Unmatched input yields
// [KindUnknown].
func Parse(text string, now time.Time) Command {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Unknown()
	}

	for _, p := range patterns {
		matches := p.regex.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}
		return p.build(matches, now)
	}
	return Unknown()
}

// pattern pairs a compiled regex with the constructor applied on match.
// matches is the full submatch slice from FindStringSubmatch.
type pattern struct {
	name  string
	regex *regexp.Regexp
	build func(matches []string, now time.Time) Command
}

// patterns is the ordered rule table. Task rules run before the generic list
// rule so "add a task to call mom" is not read as a list item.
var patterns = []pattern{
	{
		name:  "remind-me-to",
		regex: regexp.MustCompile(`(?i)^(?:please\s+)?remind me to\s+(.+)$`),
		build: func(m []string, now time.Time) Command {
			return buildCreateTask(m[1], now)
		},
	},
	{
		name:  "create-task",
		regex: regexp.MustCompile(`(?i)^(?:create|add|make)(?:\s+a)?(?:\s+new)?\s+(?:task|reminder|todo)(?:\s+(?:to|called|named|for))?\s+(.+)$`),
		build: func(m []string, now time.Time) Command {
			return buildCreateTask(m[1], now)
		},
	},
	{
		name:  "complete-task",
		regex: regexp.MustCompile(`(?i)^(?:complete|finish|check off|tick off)\s+(?:the\s+)?(?:task\s+)?(.+)$`),
		build: func(m []string, _ time.Time) Command {
			return Command{Kind: KindCompleteTask, TitleOrID: strings.TrimSpace(m[1])}
		},
	},
	{
		name:  "mark-done",
		regex: regexp.MustCompile(`(?i)^mark\s+(.+?)\s+(?:as\s+)?(?:done|complete|completed)$`),
		build: func(m []string, _ time.Time) Command {
			return Command{Kind: KindCompleteTask, TitleOrID: strings.TrimSpace(m[1])}
		},
	},
	{
		name:  "is-done",
		regex: regexp.MustCompile(`(?i)^(.+?)\s+is\s+done$`),
		build: func(m []string, _ time.Time) Command {
			return Command{Kind: KindCompleteTask, TitleOrID: strings.TrimSpace(m[1])}
		},
	},
	{
		name:  "delete-task",
		regex: regexp.MustCompile(`(?i)^(?:delete|remove|cancel|drop)\s+(?:the\s+)?(?:task|reminder|todo)\s+(.+)$`),
		build: func(m []string, _ time.Time) Command {
			return Command{Kind: KindDeleteTask, TitleOrID: strings.TrimSpace(m[1])}
		},
	},
	{
		name:  "set-timer",
		regex: regexp.MustCompile(`(?i)^(?:set|start)(?:\s+a|\s+an)?\s+(?:timer|alarm)\s+for\s+(.+)$`),
		build: func(m []string, _ time.Time) Command {
			return buildSetTimer(m[1])
		},
	},
	{
		name:  "add-list-item",
		regex: regexp.MustCompile(`(?i)^(?:add|put)\s+(.+?)\s+(?:to|on|onto)\s+(?:my\s+|the\s+)?(.+?)(?:\s+list)?$`),
		build: func(m []string, _ time.Time) Command {
			return Command{
				Kind:     KindAddListItem,
				Item:     strings.TrimSpace(m[1]),
				ListName: strings.TrimSpace(m[2]),
			}
		},
	},
}

// buildCreateTask extracts due-date and priority phrases from the raw title.
func buildCreateTask(raw string, now time.Time) Command {
	title, due := extractDue(raw, now)
	title, priority := extractPriority(title)
	title = strings.Trim(strings.TrimSpace(title), ",.")
	if title == "" {
		return Unknown()
	}
	return Command{
		Kind:     KindCreateTask,
		Title:    title,
		Due:      due,
		Priority: priority,
	}
}

// duePhrases maps trailing time-of-day words to concrete due dates relative
// to the reference time.
var duePhrases = []struct {
	phrase  string
	resolve func(now time.Time) time.Time
}{
	{"tomorrow", func(now time.Time) time.Time {
		y, m, d := now.AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, 9, 0, 0, 0, now.Location())
	}},
	{"tonight", func(now time.Time) time.Time {
		y, m, d := now.Date()
		return time.Date(y, m, d, 21, 0, 0, 0, now.Location())
	}},
	{"next week", func(now time.Time) time.Time {
		y, m, d := now.AddDate(0, 0, 7).Date()
		return time.Date(y, m, d, 9, 0, 0, 0, now.Location())
	}},
}

// extractDue strips a trailing due-date phrase from title and resolves it
// against now. Returns the cleaned title and a nil due when no phrase matched.
func extractDue(title string, now time.Time) (string, *time.Time) {
	lower := strings.ToLower(title)
	for _, dp := range duePhrases {
		if !strings.HasSuffix(lower, dp.phrase) {
			continue
		}
		cleaned := strings.TrimSpace(title[:len(title)-len(dp.phrase)])
		cleaned = strings.TrimSuffix(cleaned, ",")
		due := dp.resolve(now)
		return cleaned, &due
	}
	return title, nil
}

// priorityWords maps urgency keywords to priorities. Matched words are
// removed from the title.
var priorityWords = map[string]Priority{
	"urgent":   PriorityHigh,
	"asap":     PriorityHigh,
	"whenever": PriorityLow,
}

// extractPriority scans for urgency keywords, strips them, and returns the
// resulting priority. Default is medium.
func extractPriority(title string) (string, Priority) {
	priority := PriorityMedium
	words := strings.Fields(title)
	kept := words[:0]
	for _, w := range words {
		key := strings.ToLower(strings.Trim(w, ",.!"))
		if p, ok := priorityWords[key]; ok {
			priority = p
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " "), priority
}

// buildSetTimer parses a duration phrase with an optional trailing label
// ("called pasta" / "named laundry").
func buildSetTimer(raw string) Command {
	label := ""
	if m := timerLabelRe.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(raw[:len(raw)-len(m[0])])
		label = strings.TrimSpace(m[1])
	}

	d := parseDuration(raw)
	if d <= 0 {
		return Unknown()
	}
	return Command{Kind: KindSetTimer, Duration: d, Label: label}
}

var timerLabelRe = regexp.MustCompile(`(?i)\s+(?:called|named|labeled)\s+(.+)$`)

// durationSegmentRe matches one "<amount> <unit>" segment, e.g. "10 minutes".
var durationSegmentRe = regexp.MustCompile(`(?i)(\d+|a|an|one|two|three|four|five|ten|fifteen|twenty|thirty|forty five|sixty|half an?)\s*(second|sec|minute|min|hour|hr)s?`)

// wordNumbers covers the small spoken numbers STT commonly emits as words.
var wordNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"ten": 10, "fifteen": 15, "twenty": 20, "thirty": 30, "forty five": 45,
	"sixty": 60,
}

// parseDuration sums all duration segments in the phrase, so "1 hour and 30
// minutes" works. Returns 0 when no segment is found.
func parseDuration(phrase string) time.Duration {
	var total time.Duration
	for _, m := range durationSegmentRe.FindAllStringSubmatch(phrase, -1) {
		amountWord := strings.ToLower(m[1])
		unit := strings.ToLower(m[2])

		var amount float64
		if strings.HasPrefix(amountWord, "half") {
			amount = 0.5
		} else if n, ok := wordNumbers[amountWord]; ok {
			amount = float64(n)
		} else if n, err := strconv.Atoi(amountWord); err == nil {
			amount = float64(n)
		} else {
			continue
		}

		var unitDur time.Duration
		switch {
		case strings.HasPrefix(unit, "sec"):
			unitDur = time.Second
		case strings.HasPrefix(unit, "min"):
			unitDur = time.Minute
		case strings.HasPrefix(unit, "h"):
			unitDur = time.Hour
		}
		total += time.Duration(amount * float64(unitDur))
	}
	return total
}
