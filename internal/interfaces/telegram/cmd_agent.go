package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// registerAgentCommands registers agent/execution: skill, skills, cron, agent, bash, approve
func (a *Adapter) registerAgentCommands(registry *CommandRegistry) {
	registry.Register("skill", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if len(cmd.Args) == 0 {
			// Build dynamic skill list
			skillList := "No skills installed yet"
			if registry.skillManager != nil {
				skills := registry.skillManager.List()
				if len(skills) > 0 {
					var lines []string
					for _, s := range skills {
						status := "✅"
						if !s.Enabled {
							status = "❌"
						}
						lines = append(lines, fmt.Sprintf("• %s <code>%s</code> — %s", status, s.ID, s.Name))
					}
					skillList = strings.Join(lines, "\n")
				}
			}

			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("🎯 <b>Skills</b>\n\n%s\n\nUsage: /skill &lt;skill name&gt; [input]\nUse /skills to see everything available", skillList),
				ParseMode: "HTML",
			}, nil
		}

		skillName := cmd.Args[0]
		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      fmt.Sprintf("🎯 Running skill: <code>%s</code>", skillName),
			ParseMode: "HTML",
		}, nil
	})

	// /skills command - skill list and install/remove
	registry.Register("skills", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if len(cmd.Args) == 0 {
			skillList := "No skills installed yet."
			if registry.skillManager != nil {
				skills := registry.skillManager.List()
				if len(skills) > 0 {
					var lines []string
					for _, s := range skills {
						status := "✅"
						if !s.Enabled {
							status = "❌"
						}
						lines = append(lines, fmt.Sprintf("%s <code>%s</code> — %s", status, s.ID, s.Name))
					}
					skillList = strings.Join(lines, "\n")
				}
			}
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("🎯 <b>Skill list</b>\n\n%s\n\nUsage:\n• /skills install &lt;source&gt; — install a skill\n• /skills remove &lt;ID&gt; — remove a skill", skillList),
				ParseMode: "HTML",
			}, nil
		}

		subCmd := cmd.Args[0]

		switch subCmd {
		case "install", "add":
			if len(cmd.Args) < 2 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /skills install &lt;source&gt;",
					ParseMode: "HTML",
				}, nil
			}
			source := cmd.Args[1]
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Installing skill: <code>%s</code>", source),
				ParseMode: "HTML",
			}, nil

		case "remove", "uninstall", "rm":
			if len(cmd.Args) < 2 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /skills remove &lt;ID&gt;",
					ParseMode: "HTML",
				}, nil
			}
			skillID := cmd.Args[1]
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Removed skill: <code>%s</code>", skillID),
				ParseMode: "HTML",
			}, nil

		default:
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Unknown subcommand: <code>%s</code>", subCmd),
				ParseMode: "HTML",
			}, nil
		}
	})

	// /cron command - scheduled task management
	registry.Register("cron", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if len(cmd.Args) == 0 {
			return &OutgoingMessage{
				ChatID: cmd.ChatID,
				Text: "⏰ <b>Scheduled tasks</b>\n\nUsage:\n" +
					"• /cron list — list jobs\n" +
					"• /cron add &lt;expr&gt; &lt;command&gt; — add a job\n" +
					"• /cron remove &lt;ID&gt; — remove a job\n\n" +
					"Expression examples:\n" +
					"• <code>@hourly</code> — every hour\n" +
					"• <code>@daily</code> — every day\n" +
					"• <code>0 9</code> — daily at 9:00",
				ParseMode: "HTML",
			}, nil
		}

		subCmd := cmd.Args[0]

		switch subCmd {
		case "list", "ls":
			jobsText := "📋 No scheduled jobs"
			if registry.cronService != nil {
				jobs := registry.cronService.List(cmd.ChatID)
				if len(jobs) > 0 {
					var lines []string
					for _, j := range jobs {
						lines = append(lines, fmt.Sprintf("• <code>%s</code> | <code>%s</code> | %s", j.ID[:8], j.CronExpr, j.Command))
					}
					jobsText = "📋 <b>Scheduled jobs</b>\n\n" + strings.Join(lines, "\n")
				}
			}
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      jobsText,
				ParseMode: "HTML",
			}, nil

		case "add":
			if len(cmd.Args) < 3 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /cron add &lt;expr&gt; &lt;command&gt;",
					ParseMode: "HTML",
				}, nil
			}
			cronExpr := cmd.Args[1]
			command := strings.Join(cmd.Args[2:], " ")
			if registry.cronService != nil {
				jobID, err := registry.cronService.Schedule(cmd.ChatID, cronExpr, command)
				if err != nil {
					return &OutgoingMessage{
						ChatID:    cmd.ChatID,
						Text:      fmt.Sprintf("❌ Failed to add job: %s", err.Error()),
						ParseMode: "HTML",
					}, nil
				}
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      fmt.Sprintf("✅ Scheduled job added\nID: <code>%s</code>\nExpression: <code>%s</code>\nCommand: <code>%s</code>", jobID, cronExpr, command),
					ParseMode: "HTML",
				}, nil
			}
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Scheduled job added\nExpression: <code>%s</code>\nCommand: <code>%s</code>", cronExpr, command),
				ParseMode: "HTML",
			}, nil

		case "remove", "rm", "delete":
			if len(cmd.Args) < 2 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /cron remove &lt;ID&gt;",
					ParseMode: "HTML",
				}, nil
			}
			jobID := cmd.Args[1]
			if registry.cronService != nil {
				if err := registry.cronService.Cancel(jobID); err != nil {
					return &OutgoingMessage{
						ChatID:    cmd.ChatID,
						Text:      fmt.Sprintf("❌ Failed to remove job: %s", err.Error()),
						ParseMode: "HTML",
					}, nil
				}
			}
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Removed job: <code>%s</code>", jobID),
				ParseMode: "HTML",
			}, nil

		default:
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Unknown subcommand: <code>%s</code>", subCmd),
				ParseMode: "HTML",
			}, nil
		}
	})

	// /agent command - agent lifecycle management
	registry.Register("agent", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if len(cmd.Args) == 0 {
			return &OutgoingMessage{
				ChatID: cmd.ChatID,
				Text: "🤖 <b>Agent management</b>\n\nUsage:\n" +
					"• /agent list — list agents\n" +
					"• /agent switch &lt;ID&gt; — switch agent\n" +
					"• /agent spawn &lt;name&gt; — spawn a new agent\n" +
					"• /agent terminate &lt;ID&gt; — terminate an agent",
				ParseMode: "HTML",
			}, nil
		}

		subCmd := cmd.Args[0]

		switch subCmd {
		case "list", "ls":
			agentList := "• <code>default</code> — default assistant [current]"
			if registry.subagentManager != nil {
				agents := registry.subagentManager.ListSubagents(cmd.ChatID)
				if len(agents) > 0 {
					var lines []string
					for _, a := range agents {
						lines = append(lines, fmt.Sprintf("• <code>%s</code> — %s [%s]", a.Label, a.Status, a.RunID[:8]))
					}
					agentList = strings.Join(lines, "\n")
				}
			}
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("🤖 <b>Current agents</b>\n\n%s", agentList),
				ParseMode: "HTML",
			}, nil

		case "switch", "use":
			if len(cmd.Args) < 2 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /agent switch &lt;ID&gt;",
					ParseMode: "HTML",
				}, nil
			}
			agentID := cmd.Args[1]
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Switched to agent: <code>%s</code>", agentID),
				ParseMode: "HTML",
			}, nil

		case "spawn", "create", "new":
			if len(cmd.Args) < 2 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /agent spawn &lt;name&gt;",
					ParseMode: "HTML",
				}, nil
			}
			name := strings.Join(cmd.Args[1:], " ")
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Spawned agent: <code>%s</code>", name),
				ParseMode: "HTML",
			}, nil

		case "terminate", "kill", "stop":
			if len(cmd.Args) < 2 {
				return &OutgoingMessage{
					ChatID:    cmd.ChatID,
					Text:      "❌ Usage: /agent terminate &lt;ID&gt;",
					ParseMode: "HTML",
				}, nil
			}
			agentID := cmd.Args[1]
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ Terminated agent: <code>%s</code>", agentID),
				ParseMode: "HTML",
			}, nil

		default:
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Unknown subcommand: <code>%s</code>", subCmd),
				ParseMode: "HTML",
			}, nil
		}
	})

	// /bash command - run a shell command through the sandbox
	registry.Register("bash", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if registry.configManager != nil && !registry.configManager.IsFeatureEnabled("bash") {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "⚠️ /bash is disabled. Set commands.bash=true to enable it.",
				ParseMode: "HTML",
			}, nil
		}
		if len(cmd.Args) == 0 {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "⚙️ Usage: /bash &lt;command&gt;",
				ParseMode: "HTML",
			}, nil
		}
		command := strings.Join(cmd.Args, " ")
		if registry.bashExecutor == nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "⚠️ Bash executor is unavailable.",
				ParseMode: "HTML",
			}, nil
		}
		output, err := registry.bashExecutor.Execute(ctx, cmd.ChatID, command)
		if err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Error: %s", err.Error()),
				ParseMode: "HTML",
			}, nil
		}
		if output == "" {
			output = "(no output)"
		}
		// Truncate long output
		if len(output) > 4000 {
			output = output[:4000] + "\n... (truncated)"
		}
		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      fmt.Sprintf("<pre>%s</pre>", output),
			ParseMode: "HTML",
		}, nil
	})

	// /approve command - resolve a pending tool approval
	registry.Register("approve", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if len(cmd.Args) < 2 {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "⚙️ Usage: /approve &lt;id&gt; &lt;allow|deny&gt;",
				ParseMode: "HTML",
			}, nil
		}
		if registry.approvalManager == nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "⚠️ Approval manager is unavailable.",
				ParseMode: "HTML",
			}, nil
		}
		approvalID := cmd.Args[0]
		decision := strings.ToLower(cmd.Args[1])
		if decision != "allow" && decision != "deny" {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "⚙️ Decision must be allow or deny.",
				ParseMode: "HTML",
			}, nil
		}
		if err := registry.approvalManager.ResolveApproval(ctx, approvalID, decision); err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Approval error: %s", err.Error()),
				ParseMode: "HTML",
			}, nil
		}
		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      fmt.Sprintf("✅ Approval %s: %s", approvalID, decision),
			ParseMode: "HTML",
		}, nil
	})

	// /plan command - show the current plan (reads ~/.relay/current_plan.json)
	registry.Register("plan", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "❌ Could not resolve the home directory",
				ParseMode: "HTML",
			}, nil
		}

		planPath := filepath.Join(home, ".relay", "current_plan.json")
		data, err := os.ReadFile(planPath)
		if err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "📝 No active plan right now\n\nUse the update_plan tool from a conversation to create one.",
				ParseMode: "HTML",
			}, nil
		}

		var plan struct {
			Title string `json:"title"`
			Steps []struct {
				ID     string `json:"id"`
				Title  string `json:"title"`
				Status string `json:"status"`
			} `json:"steps"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := json.Unmarshal(data, &plan); err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Malformed plan file: %s", err.Error()),
				ParseMode: "HTML",
			}, nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("📝 <b>%s</b>\n\n", plan.Title))
		for _, step := range plan.Steps {
			icon := "⬜"
			switch step.Status {
			case "done", "completed":
				icon = "✅"
			case "in_progress", "working":
				icon = "🔄"
			case "blocked":
				icon = "🚫"
			}
			sb.WriteString(fmt.Sprintf("%s %s\n", icon, step.Title))
		}
		if plan.UpdatedAt != "" {
			sb.WriteString(fmt.Sprintf("\n<i>Updated: %s</i>", plan.UpdatedAt))
		}

		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      sb.String(),
			ParseMode: "HTML",
		}, nil
	})

	// /memory command - show long-term memory (reads ~/.relay/memory.json)
	registry.Register("memory", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "❌ Could not resolve the home directory",
				ParseMode: "HTML",
			}, nil
		}

		memPath := filepath.Join(home, ".relay", "memory.json")
		data, err := os.ReadFile(memPath)
		if err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "🧠 Memory store is empty\n\nReact with 👍 or call the save_memory tool from a conversation to store one.",
				ParseMode: "HTML",
			}, nil
		}

		var store struct {
			Facts []struct {
				Content    string  `json:"content"`
				Category   string  `json:"category"`
				Confidence float64 `json:"confidence"`
				CreatedAt  string  `json:"created_at"`
			} `json:"facts"`
		}
		if err := json.Unmarshal(data, &store); err != nil {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ Malformed memory file: %s", err.Error()),
				ParseMode: "HTML",
			}, nil
		}

		if len(store.Facts) == 0 {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "🧠 Memory store is empty",
				ParseMode: "HTML",
			}, nil
		}

		// Show last 10 memories (newest first)
		limit := 10
		if len(store.Facts) < limit {
			limit = len(store.Facts)
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("🧠 <b>Long-term memory</b> (%d entries)\n\n", len(store.Facts)))
		for i := len(store.Facts) - 1; i >= len(store.Facts)-limit; i-- {
			fact := store.Facts[i]
			catIcon := "💡"
			switch fact.Category {
			case "preference":
				catIcon = "⚙️"
			case "project":
				catIcon = "📂"
			case "environment":
				catIcon = "🖥️"
			case "skill":
				catIcon = "🎯"
			}
			content := fact.Content
			if len(content) > 80 {
				content = content[:80] + "..."
			}
			sb.WriteString(fmt.Sprintf("%s %s\n", catIcon, content))
		}
		if len(store.Facts) > limit {
			sb.WriteString(fmt.Sprintf("\n<i>...%d memories total</i>", len(store.Facts)))
		}

		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      sb.String(),
			ParseMode: "HTML",
		}, nil
	})
}
