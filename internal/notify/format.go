package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
)

// Title is a one-line human summary of evt.
func Title(evt domain.Event) string {
	switch evt.Kind {
	case domain.EventStatusChanged:
		switch {
		case evt.NewStatus == domain.StatusError:
			return fmt.Sprintf("❌ %s is failing", evt.ModelID)
		case evt.NewStatus == domain.StatusStopped:
			return fmt.Sprintf("🛑 %s stopped", evt.ModelID)
		case evt.NewStatus == domain.StatusRunning && evt.OldStatus == domain.StatusError:
			return fmt.Sprintf("✅ %s recovered", evt.ModelID)
		case evt.NewStatus == domain.StatusRunning:
			return fmt.Sprintf("🚀 %s started", evt.ModelID)
		default:
			return fmt.Sprintf("%s is %s", evt.ModelID, evt.NewStatus)
		}
	case domain.EventStartProbe:
		if evt.Outcome != nil && evt.Outcome.OK {
			return fmt.Sprintf("🧪 Initial probe for %s succeeded", evt.ModelID)
		}
		return fmt.Sprintf("❌ Initial probe for %s failed", evt.ModelID)
	case domain.EventWindowOpened:
		return fmt.Sprintf("🚀 Daily operation started for %s", evt.ModelID)
	case domain.EventWindowClosed:
		return fmt.Sprintf("🛑 Daily operation ended for %s", evt.ModelID)
	case domain.EventTickSummary:
		return "Tick completed"
	default:
		return string(evt.Kind)
	}
}

// Body is the multi-line detail text of evt, in Slack mrkdwn-compatible form.
func Body(evt domain.Event) string {
	var lines []string
	if def := evt.Definition; def != nil {
		lines = append(lines,
			fmt.Sprintf("*Model:* %s", def.ModelID),
			fmt.Sprintf("*Endpoint:* %s", def.EndpointID()),
			fmt.Sprintf("*Window:* %s-%s %s, every %d min", def.From, def.To, def.Timezone, def.IntervalMinutes),
		)
	}

	switch evt.Kind {
	case domain.EventStatusChanged:
		lines = append(lines, fmt.Sprintf("*Status:* %s → %s", orDash(string(evt.OldStatus)), evt.NewStatus))
		if evt.Error != "" {
			lines = append(lines, fmt.Sprintf("*Error:* %s", evt.Error))
		}
	case domain.EventStartProbe:
		if out := evt.Outcome; out != nil {
			if out.OK {
				lines = append(lines, fmt.Sprintf("*Latency:* %s (%d attempt(s))", out.Latency.Round(time.Millisecond), out.Attempts))
			} else {
				lines = append(lines, fmt.Sprintf("*Failure:* %s: %s", out.Kind, out.Message))
			}
		}
	case domain.EventWindowClosed:
		if def := evt.Definition; def != nil {
			lines = append(lines, fmt.Sprintf("See you tomorrow! Next start: %s %s", def.From, def.Timezone))
		}
	case domain.EventTickSummary:
		if s := evt.Summary; s != nil {
			lines = append(lines, fmt.Sprintf("due %d, succeeded %d, failed %d, skipped %d, discarded %d in %s",
				s.Due, s.Succeeded, s.Failed, s.Skipped, s.Discarded, s.Duration.Round(time.Millisecond)))
		}
	}

	if !evt.At.IsZero() {
		lines = append(lines, fmt.Sprintf("_%s_", evt.At.UTC().Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// plain strips the mrkdwn emphasis Body adds, for sinks that render text as is.
func plain(line string) string {
	return strings.Trim(strings.ReplaceAll(line, "*", ""), "_")
}
