package oracle

import (
	"fmt"
	"strings"
)

const judgeSystemPrompt = `You are a strict but fair productivity manager watching over a worker's screen activity.
You receive the worker's task list and a log of recent screen observations.
Decide whether the recent activity serves the open tasks.
Respond with a single JSON object:
{"is_productive": bool, "reasoning": string, "interjection": bool, "interjection_message": string, "tasks_to_complete": [string]}
Set "interjection" true only when the worker has clearly drifted and needs to be told so.
"interjection_message" is spoken aloud to the worker; keep it short and direct.
"tasks_to_complete" lists open task texts the activity appears to have finished, verbatim from the task list.`

const assessSystemPrompt = `You are a productivity manager reviewing a worker's claim of completed work.
You receive a numbered list of open tasks and the worker's report.
Respond with a single JSON object:
{"is_compliant": bool, "completed_task_numbers": [int], "message": string}
"completed_task_numbers" lists the numbers of tasks the report credibly claims finished. Use only numbers from the list.
"message" is read back to the worker.`

const summarizeSystemPrompt = `You condense screen-activity logs.
You receive a window of observations. Respond with a single JSON object:
{"summary": string, "apps_used": [string]}
"summary" is one short paragraph of what happened. "apps_used" lists distinct application names.`

const extractSystemPrompt = `You turn a free-form brain dump into a task list.
Respond with a single JSON object: {"tasks": [string]}
Each entry is one short actionable item. Ignore musings that are not actionable.`

const describeSystemPrompt = `You describe a single screen observation.
You receive a window title and an application name. Respond with a single JSON object:
{"description": string}
One sentence, factual, about what the worker is likely doing.`

func buildJudgeUser(req JudgeRequest) string {
	var b strings.Builder
	b.WriteString("Task list:\n")
	if len(req.Tasks) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, t := range req.Tasks {
		state := "open"
		if t.Done {
			state = "done"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", state, t.Text)
	}
	if req.Summary != "" {
		b.WriteString("\nEarlier activity summary:\n")
		b.WriteString(req.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\nRecent observations (newest last):\n")
	if len(req.Observations) == 0 {
		b.WriteString("(none)\n")
	}
	for _, o := range req.Observations {
		fmt.Fprintf(&b, "- %s app=%q window=%q %s\n", o.TS, o.AppName, o.WindowTitle, o.Description)
	}
	fmt.Fprintf(&b, "\nCurrent strike count: %d\n", req.StrikeCount)
	return b.String()
}

func buildAssessUser(transcript string, tasks []TaskLine) string {
	var b strings.Builder
	b.WriteString("Open tasks:\n")
	n := 0
	for _, t := range tasks {
		if t.Done {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, t.Text)
	}
	b.WriteString("\nWorker's report:\n")
	b.WriteString(transcript)
	return b.String()
}

func buildSummarizeUser(obs []ObservationLine) string {
	var b strings.Builder
	b.WriteString("Observations (oldest first):\n")
	for _, o := range obs {
		fmt.Fprintf(&b, "- %s app=%q window=%q %s\n", o.TS, o.AppName, o.WindowTitle, o.Description)
	}
	return b.String()
}
