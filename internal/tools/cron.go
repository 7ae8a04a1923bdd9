package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/valet/internal/scheduler"
)

// CronTool lets the model manage scheduled jobs.
type CronTool struct {
	sched *scheduler.Scheduler
}

func NewCronTool(sched *scheduler.Scheduler) *CronTool {
	return &CronTool{sched: sched}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Manage scheduled jobs: add, list, update, remove, run_now. Schedules are a cron expression, a fixed interval, or a one-shot time."
}
func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "list", "update", "remove", "run_now"},
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Job id for update, remove and run_now",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Human-readable job name",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Prompt delivered to the agent when the job fires",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression, e.g. \"0 9 * * 1-5\"",
			},
			"every": map[string]any{
				"type":        "string",
				"description": "Fixed interval as a duration, e.g. \"30m\"",
			},
			"at": map[string]any{
				"type":        "string",
				"description": "One-shot time, RFC3339 or \"2006-01-02 15:04\"",
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone for cron and at schedules",
			},
			"enabled": map[string]any{
				"type":        "boolean",
				"description": "Enable or disable the job on update",
			},
			"deliver": map[string]any{
				"type":        "boolean",
				"description": "Deliver the job's reply to the originating channel (default true)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(args)
	case "list":
		return t.list()
	case "update":
		return t.update(args)
	case "remove":
		return t.remove(args)
	case "run_now":
		return t.runNow(ctx, args)
	default:
		return ErrorResult(fmt.Sprintf("unknown cron action: %s", action))
	}
}

func (t *CronTool) add(args map[string]any) *Result {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required for add")
	}

	sched, err := scheduleFromArgs(args)
	if err != nil {
		return ErrorResult(err.Error())
	}

	name, _ := args["name"].(string)
	deliver := true
	if d, ok := args["deliver"].(bool); ok {
		deliver = d
	}

	job, err := t.sched.Add(name, sched, scheduler.Payload{Message: message, Deliver: deliver}, false)
	if err != nil {
		return ErrorResult(fmt.Sprintf("add job: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("scheduled job %s (%s)", job.ID, job.Schedule.Describe()))
}

func (t *CronTool) list() *Result {
	jobs := t.sched.List()
	if len(jobs) == 0 {
		return NewResult("(no scheduled jobs)")
	}
	var b strings.Builder
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "- %s [%s] %s: %s", job.ID, state, job.Schedule.Describe(), job.Payload.Message)
		if job.Name != "" {
			fmt.Fprintf(&b, " (%s)", job.Name)
		}
		if job.State.NextRunAt > 0 {
			fmt.Fprintf(&b, " next=%s", time.UnixMilli(job.State.NextRunAt).Format(time.RFC3339))
		}
		if job.State.LastStatus != "" {
			fmt.Fprintf(&b, " last=%s", job.State.LastStatus)
		}
		b.WriteString("\n")
	}
	return NewResult(strings.TrimSpace(b.String()))
}

func (t *CronTool) update(args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required for update")
	}

	var sched *scheduler.Schedule
	if hasScheduleArgs(args) {
		parsed, err := scheduleFromArgs(args)
		if err != nil {
			return ErrorResult(err.Error())
		}
		sched = &parsed
	}

	job, err := t.sched.Update(id, func(j *scheduler.Job) {
		if sched != nil {
			j.Schedule = *sched
		}
		if name, ok := args["name"].(string); ok && name != "" {
			j.Name = name
		}
		if message, ok := args["message"].(string); ok && message != "" {
			j.Payload.Message = message
		}
		if enabled, ok := args["enabled"].(bool); ok {
			j.Enabled = enabled
		}
		if deliver, ok := args["deliver"].(bool); ok {
			j.Payload.Deliver = deliver
		}
	})
	if err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("updated job %s (%s)", job.ID, job.Schedule.Describe()))
}

func (t *CronTool) remove(args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required for remove")
	}
	existed, err := t.sched.Remove(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("remove job: %v", err)).WithError(err)
	}
	if !existed {
		return ErrorResult(fmt.Sprintf("no job %s", id))
	}
	return NewResult(fmt.Sprintf("removed job %s", id))
}

func (t *CronTool) runNow(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required for run_now")
	}
	if err := t.sched.RunNow(ctx, id); err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("job %s queued to run now", id))
}

func hasScheduleArgs(args map[string]any) bool {
	for _, key := range []string{"cron", "every", "at"} {
		if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

func scheduleFromArgs(args map[string]any) (scheduler.Schedule, error) {
	cronExpr, _ := args["cron"].(string)
	at, _ := args["at"].(string)
	timezone, _ := args["timezone"].(string)

	var every time.Duration
	if raw, ok := args["every"].(string); ok && strings.TrimSpace(raw) != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return scheduler.Schedule{}, fmt.Errorf("invalid every duration: %v", err)
		}
		every = parsed
	}
	return scheduler.ParseSchedule(cronExpr, every, at, timezone)
}
