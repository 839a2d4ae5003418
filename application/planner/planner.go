package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/vector"
)

// UserContext describes the learner the plan is for.
type UserContext struct {
	UserID         string   `json:"user_id"`
	CourseID       string   `json:"course_id,omitempty"`
	Goal           string   `json:"goal"`
	HoursPerWeek   int      `json:"hours_per_week,omitempty"`
	UpcomingTopics []string `json:"upcoming_topics,omitempty"`
}

// StudySession is one scheduled block of a plan.
type StudySession struct {
	Topic           string `json:"topic"`
	DurationMinutes int    `json:"duration_minutes"`
	Activity        string `json:"activity"`
}

// StudyPlan is the structured recommendation returned to the caller.
type StudyPlan struct {
	FocusAreas []string       `json:"focus_areas"`
	Sessions   []StudySession `json:"sessions"`
	Rationale  string         `json:"rationale"`
	Grounded   bool           `json:"grounded"`
}

// Retriever answers questions grounded in the user's indexed material.
type Retriever interface {
	Answer(ctx context.Context, query string, scope vector.Scope) (*ai.Response, error)
}

// Chatter is the slice of the AI router the planner needs.
type Chatter interface {
	Chat(ctx context.Context, req *ai.Request) (*ai.Response, error)
}

// Planner produces study recommendations. Retrieval grounds the plan in the
// user's own material when any is indexed; users with no content get an
// ungrounded plan rather than an error. Other pipeline failures propagate
// unchanged, there is no retry policy at this layer.
type Planner struct {
	retriever Retriever
	chatter   Chatter
}

func NewPlanner(retriever Retriever, chatter Chatter) *Planner {
	return &Planner{retriever: retriever, chatter: chatter}
}

const planPrompt = "You are a study planner. Produce a JSON object with fields " +
	`"focus_areas" (array of strings), "sessions" (array of {"topic","duration_minutes","activity"}), ` +
	`and "rationale" (string). Respond with JSON only, no prose around it.`

func (p *Planner) Plan(ctx context.Context, uc UserContext) (*StudyPlan, error) {
	if uc.UserID == "" {
		return nil, ai.WrapInvalidArgument("user_id cannot be empty")
	}
	if strings.TrimSpace(uc.Goal) == "" {
		return nil, ai.WrapInvalidArgument("goal cannot be empty")
	}

	scope := vector.Scope{OwnerID: uc.UserID, CourseID: uc.CourseID}

	grounded := true
	summary, err := p.retriever.Answer(ctx, p.summaryQuery(uc), scope)
	if err != nil {
		if !errors.Is(err, ai.ErrNoContentAvailable) {
			return nil, fmt.Errorf("failed to summarize study material: %w", err)
		}
		grounded = false
		logrus.WithField("user_id", uc.UserID).Debug("No indexed material, producing ungrounded plan")
	}

	req := &ai.Request{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: planPrompt},
			{Role: ai.RoleUser, Content: p.planRequest(uc, summary)},
		},
	}

	resp, err := p.chatter.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	plan, err := parsePlan(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: plan response was not valid JSON: %v", ai.ErrProviderRequestFailed, err)
	}
	plan.Grounded = grounded

	return plan, nil
}

func (p *Planner) summaryQuery(uc UserContext) string {
	var b strings.Builder
	b.WriteString("Summarize the key topics and difficult concepts in my study material")
	if len(uc.UpcomingTopics) > 0 {
		fmt.Fprintf(&b, ", especially anything related to: %s", strings.Join(uc.UpcomingTopics, ", "))
	}
	b.WriteString(".")
	return b.String()
}

func (p *Planner) planRequest(uc UserContext, summary *ai.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", uc.Goal)
	if uc.HoursPerWeek > 0 {
		fmt.Fprintf(&b, "Available time: %d hours per week\n", uc.HoursPerWeek)
	}
	if len(uc.UpcomingTopics) > 0 {
		fmt.Fprintf(&b, "Upcoming topics: %s\n", strings.Join(uc.UpcomingTopics, ", "))
	}
	if summary != nil {
		fmt.Fprintf(&b, "\nSummary of the learner's own material:\n%s\n", summary.Content)
	} else {
		b.WriteString("\nThe learner has no indexed material yet; base the plan on the goal and topics alone.\n")
	}
	b.WriteString("\nProduce the study plan.")
	return b.String()
}

// parsePlan tolerates models that wrap JSON in a markdown fence.
func parsePlan(text string) (*StudyPlan, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var plan StudyPlan
	if err := json.Unmarshal([]byte(trimmed), &plan); err != nil {
		return nil, err
	}
	if len(plan.Sessions) == 0 && len(plan.FocusAreas) == 0 {
		return nil, fmt.Errorf("plan has no sessions or focus areas")
	}
	return &plan, nil
}
