package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/farumcollective/convene/internal/domain"
)

// agentsFileDoc mirrors a checked-in MeetingConfig template. Grounded in
// kingrea-The-Lattice's yaml-driven module/plugin definitions: one small
// struct per concept, parsed with gopkg.in/yaml.v3, defaults applied
// afterwards by ApplyMeetingDefaults rather than by the zero value.
type agentsFileDoc struct {
	Agents []struct {
		ID              string  `yaml:"id"`
		DisplayName     string  `yaml:"display_name"`
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"`
		SystemPrompt    string  `yaml:"system_prompt"`
		Temperature     float64 `yaml:"temperature"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
		Enabled         *bool   `yaml:"enabled"`
	} `yaml:"agents"`

	Discussion struct {
		Mode                      string `yaml:"mode"`
		AutoParallelMinAgents     int    `yaml:"auto_parallel_min_agents"`
		CrossReplyTargetsPerAgent int    `yaml:"cross_reply_targets_per_agent"`
	} `yaml:"discussion"`

	Facilitator struct {
		Enabled     *bool   `yaml:"enabled"`
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
		TimeoutMS   int     `yaml:"timeout_ms"`
	} `yaml:"facilitator"`

	Threshold struct {
		Mode              string `yaml:"mode"`
		AvgScoreThreshold int    `yaml:"avg_score_threshold"`
		MinRounds         int    `yaml:"min_rounds"`
		MaxRounds         int    `yaml:"max_rounds"`
		VoteTimeoutMS     int    `yaml:"vote_timeout_ms"`
	} `yaml:"threshold"`

	Output struct {
		Format string `yaml:"format"`
	} `yaml:"output"`
}

// LoadAgentsFile parses a YAML MeetingConfig template from path.
func LoadAgentsFile(path string) (domain.MeetingConfig, error) {
	var cfg domain.MeetingConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading agents file: %w", err)
	}

	var doc agentsFileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("parsing agents file: %w", err)
	}

	for _, a := range doc.Agents {
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		cfg.Agents = append(cfg.Agents, domain.AgentConfig{
			ID:              domain.AgentID(a.ID),
			DisplayName:     a.DisplayName,
			Provider:        a.Provider,
			Model:           a.Model,
			SystemPrompt:    a.SystemPrompt,
			Temperature:     a.Temperature,
			MaxOutputTokens: a.MaxOutputTokens,
			Enabled:         enabled,
		})
	}

	cfg.Discussion = domain.DiscussionConfig{
		Mode:                      domain.DiscussionMode(doc.Discussion.Mode),
		AutoParallelMinAgents:     doc.Discussion.AutoParallelMinAgents,
		CrossReplyTargetsPerAgent: doc.Discussion.CrossReplyTargetsPerAgent,
	}

	facilitatorEnabled := true
	if doc.Facilitator.Enabled != nil {
		facilitatorEnabled = *doc.Facilitator.Enabled
	}
	cfg.Facilitator = domain.FacilitatorConfig{
		Enabled:     facilitatorEnabled,
		Provider:    doc.Facilitator.Provider,
		Model:       doc.Facilitator.Model,
		Temperature: doc.Facilitator.Temperature,
		TimeoutMS:   doc.Facilitator.TimeoutMS,
	}

	cfg.Threshold = domain.ThresholdConfig{
		Mode:              domain.ThresholdMode(doc.Threshold.Mode),
		AvgScoreThreshold: doc.Threshold.AvgScoreThreshold,
		MinRounds:         doc.Threshold.MinRounds,
		MaxRounds:         doc.Threshold.MaxRounds,
		VoteTimeoutMS:     doc.Threshold.VoteTimeoutMS,
	}

	cfg.Output = domain.OutputConfig{Format: domain.OutputFormat(doc.Output.Format)}

	return ApplyMeetingDefaults(cfg), nil
}
