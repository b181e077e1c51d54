package fake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

type iamState struct {
	mu      sync.Mutex
	allowed map[string]bool
}

// IAM simulates principal policies from a fixed set of allowed actions.
type IAM struct {
	st *iamState
}

// NewIAM returns an IAM fake that allows the given actions.
func NewIAM(allowed ...string) *IAM {
	f := &IAM{st: &iamState{allowed: make(map[string]bool)}}
	f.Allow(allowed...)
	return f
}

func (f *IAM) handle() *IAM {
	return &IAM{st: f.st}
}

// Allow adds actions to the allowed set.
func (f *IAM) Allow(actions ...string) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, a := range actions {
		f.st.allowed[a] = true
	}
}

// Deny removes actions from the allowed set.
func (f *IAM) Deny(actions ...string) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, a := range actions {
		delete(f.st.allowed, a)
	}
}

// SimulatePrincipalPolicy returns one evaluation result per requested action.
func (f *IAM) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	if aws.ToString(params.PolicySourceArn) == "" {
		return nil, &types.InvalidInputException{Message: aws.String("policy source ARN is required")}
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	out := &iam.SimulatePrincipalPolicyOutput{}
	for _, action := range params.ActionNames {
		decision := types.PolicyEvaluationDecisionTypeImplicitDeny
		if f.st.allowed[action] || f.st.allowed["*"] {
			decision = types.PolicyEvaluationDecisionTypeAllowed
		}
		out.EvaluationResults = append(out.EvaluationResults, types.EvaluationResult{
			EvalActionName: aws.String(action),
			EvalDecision:   decision,
		})
	}
	return out, nil
}
