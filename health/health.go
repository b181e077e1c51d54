// Package health builds dependency health reports and probes whether a
// principal holds the IAM permissions the pipeline needs.
package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/gurre/rtap/aws"
)

// Overall and per-check states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	CheckOK        = "ok"
	CheckFail      = "fail"
)

// Status is an immutable health report.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Build reports ok when every check passed and degraded otherwise.
func Build(checks map[string]bool) Status {
	return BuildAt(checks, time.Now())
}

// BuildAt is Build with an explicit timestamp.
func BuildAt(checks map[string]bool, now time.Time) Status {
	overall := StatusOK
	detailed := make(map[string]string, len(checks))
	for name, ok := range checks {
		if ok {
			detailed[name] = CheckOK
			continue
		}
		detailed[name] = CheckFail
		overall = StatusDegraded
	}
	return Status{
		Status:    overall,
		Checks:    detailed,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// Healthy reports whether the overall status is ok.
func (s Status) Healthy() bool {
	return s.Status == StatusOK
}

// String renders the status with checks in name order.
func (s Status) String() string {
	names := make([]string, 0, len(s.Checks))
	for name := range s.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]string, len(names))
	for i, name := range names {
		checks[i] = name + "=" + s.Checks[name]
	}
	return fmt.Sprintf("status=%s checks=[%s] timestamp=%s", s.Status, strings.Join(checks, " "), s.Timestamp)
}

// ComponentActions lists the IAM actions each pipeline dependency needs.
var ComponentActions = map[string][]string{
	"kinesis":  {"kinesis:CreateStream", "kinesis:DescribeStreamSummary", "kinesis:PutRecord", "kinesis:GetShardIterator", "kinesis:GetRecords"},
	"s3":       {"s3:CreateBucket", "s3:PutObject", "s3:GetObject"},
	"dynamodb": {"dynamodb:CreateTable", "dynamodb:DescribeTable", "dynamodb:BatchWriteItem"},
	"lambda":   {"lambda:InvokeFunction"},
}

// DefaultComponents are checked when none are named.
var DefaultComponents = []string{"kinesis", "s3", "dynamodb", "lambda"}

// PermissionProber asks IAM whether a principal may perform each
// component's actions.
type PermissionProber struct {
	client       aws.IAMClient
	principalARN string
}

// NewPermissionProber creates a prober for principalARN.
func NewPermissionProber(client aws.IAMClient, principalARN string) *PermissionProber {
	return &PermissionProber{client: client, principalARN: principalARN}
}

// Probe returns one check per component. A component passes when every one
// of its actions evaluates to allowed. Unknown components fail.
func (p *PermissionProber) Probe(ctx context.Context, components []string) (map[string]bool, error) {
	checks := make(map[string]bool, len(components))
	for _, component := range components {
		actions, ok := ComponentActions[component]
		if !ok {
			checks[component] = false
			continue
		}

		out, err := p.client.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
			PolicySourceArn: &p.principalARN,
			ActionNames:     actions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to simulate policy for %s: %w", component, err)
		}

		allowed := len(out.EvaluationResults) == len(actions)
		for _, r := range out.EvaluationResults {
			if r.EvalDecision != types.PolicyEvaluationDecisionTypeAllowed {
				allowed = false
			}
		}
		checks[component] = allowed
	}
	return checks, nil
}
