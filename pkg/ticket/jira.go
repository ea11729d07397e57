package ticket

import (
	"context"
	"fmt"

	jira "github.com/andygrunwald/go-jira"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// JiraTicketer documents applied resource changes as Jira tickets.
type JiraTicketer struct {
	client  *jira.Client
	project string
}

// NewJira creates a ticketer against the given Jira instance.
func NewJira(baseURL, username, apiToken, project string) (*JiraTicketer, error) {
	tp := jira.BasicAuthTransport{
		Username: username,
		Password: apiToken,
	}
	client, err := jira.NewClient(tp.Client(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jira client: %w", err)
	}
	return &JiraTicketer{client: client, project: project}, nil
}

// CreateTicket files a task describing the applied change and returns its
// issue key.
func (t *JiraTicketer) CreateTicket(ctx context.Context, rec *models.AuditRecord) (string, error) {
	issue := &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: t.project},
			Type:        jira.IssueType{Name: "Task"},
			Summary:     fmt.Sprintf("Resource optimization: %s/%s", rec.Ref.Namespace, rec.Ref.Name),
			Description: description(rec),
			Labels:      []string{"resource-optimization", "automated"},
		},
	}

	created, _, err := t.client.Issue.CreateWithContext(ctx, issue)
	if err != nil {
		return "", fmt.Errorf("creating Jira issue: %w", err)
	}
	return created.Key, nil
}

func description(rec *models.AuditRecord) string {
	after := "unchanged"
	if rec.After != nil {
		after = rec.After.String()
	}
	return fmt.Sprintf(
		"*Resource Optimization*\n\n"+
			"*Workload*: %s/%s (container %s, %s)\n"+
			"*Cluster*: %s %s\n\n"+
			"*Before*: %s\n"+
			"*After*: %s\n\n"+
			"*Justification*:\n%s\n\n"+
			"*Initiated by*: %s",
		rec.Ref.Namespace, rec.Ref.Name, rec.Ref.Container, rec.Ref.Kind,
		rec.Ref.Cluster, rec.Ref.Location,
		rec.Before.String(),
		after,
		rec.Detail,
		rec.Actor,
	)
}
