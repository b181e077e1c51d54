package fake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Invocation is one recorded Lambda call.
type Invocation struct {
	FunctionName   string
	InvocationType types.InvocationType
	Payload        []byte
}

type lambdaState struct {
	mu          sync.Mutex
	invocations []Invocation
}

// Lambda is an in-memory Lambda client that records invocations.
type Lambda struct {
	st *lambdaState
}

// NewLambda returns a Lambda fake.
func NewLambda() *Lambda {
	return &Lambda{st: &lambdaState{}}
}

func (f *Lambda) handle() *Lambda {
	return &Lambda{st: f.st}
}

// Invoke records the call. Event invocations return 202, others 200 with an
// empty JSON object payload.
func (f *Lambda) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	name := aws.ToString(params.FunctionName)
	if name == "" {
		return nil, &types.InvalidParameterValueException{Message: aws.String("function name is required")}
	}

	f.st.mu.Lock()
	f.st.invocations = append(f.st.invocations, Invocation{
		FunctionName:   name,
		InvocationType: params.InvocationType,
		Payload:        append([]byte(nil), params.Payload...),
	})
	f.st.mu.Unlock()

	if params.InvocationType == types.InvocationTypeEvent {
		return &lambda.InvokeOutput{StatusCode: 202}, nil
	}
	return &lambda.InvokeOutput{StatusCode: 200, Payload: []byte("{}")}, nil
}

// Invocations returns a copy of the recorded calls.
func (f *Lambda) Invocations() []Invocation {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return append([]Invocation(nil), f.st.invocations...)
}
