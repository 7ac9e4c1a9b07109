package agent

// Profile is the immutable permission/behavior bundle a controller runs
// under. Profiles are process-wide constants; they are copied by value and
// never mutated after construction.
type Profile struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	Policy       Policy `json:"policy"`

	// CanDelegate gates the delegate tool structurally. It is checked at
	// dispatch time independently of the policy map, so a misconfigured
	// policy cannot re-enable delegation for a profile that forbids it.
	CanDelegate bool `json:"can_delegate"`
}

const buildPrompt = `You are a coding assistant with full access to read, write, and execute code.

When working on tasks:
1. Understand the codebase first - read relevant files before making changes
2. Make changes incrementally and verify they work
3. Run tests when available
4. Use the delegate tool to hand independent subtasks to a scoped sub-agent
5. Be careful with destructive operations`

const planPrompt = `You are a read-only planning and analysis assistant. You can explore the codebase and answer questions, but you CANNOT modify files or execute commands.

Your role:
1. Explore and understand codebases
2. Design implementation plans with clear steps
3. Identify potential issues and architectural trade-offs

If the user needs changes made, say so instead of attempting them.`

const delegatedPrompt = `You are handling a specific delegated subtask. Complete the task autonomously and return a clear, concise summary of what you did and what you found.`

// BuildProfile is the full-access profile: everything allowed except shell
// and network fetches, which prompt for approval. It may delegate.
func BuildProfile() Profile {
	return Profile{
		Name:         "build",
		SystemPrompt: buildPrompt,
		CanDelegate:  true,
		Policy: Policy{
			Default: Allow,
			Rules: map[string]Decision{
				"shell":      Ask,
				"web_fetch":  Ask,
				"web_search": Ask,
			},
		},
	}
}

// PlanProfile is read-only: anything that could mutate state is denied by
// default and only inspection tools are allowed. It cannot delegate.
func PlanProfile() Profile {
	return Profile{
		Name:         "plan",
		SystemPrompt: planPrompt,
		CanDelegate:  false,
		Policy: Policy{
			Default: Deny,
			Rules: map[string]Decision{
				"read_file":  Allow,
				"list_files": Allow,
				"glob":       Allow,
				"grep":       Allow,
				"todo":       Allow,
				"web_fetch":  Ask,
				"web_search": Ask,
			},
		},
	}
}

// DelegatedProfile is what forked sub-task sessions run under: build
// permissions, but delegation is off so a sub-agent can never chain
// further delegation.
func DelegatedProfile() Profile {
	p := BuildProfile()
	p.Name = "delegated"
	p.SystemPrompt = delegatedPrompt
	p.CanDelegate = false
	p.Policy.Rules = map[string]Decision{
		"shell":          Ask,
		"web_fetch":      Ask,
		"web_search":     Ask,
		DelegateToolName: Deny,
	}
	return p
}

// ProfileByName resolves one of the canonical profiles. Unknown names fall
// back to the plan profile, the most restrictive of the three.
func ProfileByName(name string) Profile {
	switch name {
	case "build":
		return BuildProfile()
	case "delegated":
		return DelegatedProfile()
	default:
		return PlanProfile()
	}
}
