package embed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

type mockInvokeAPI struct {
	calls  int
	lastIn *bedrockruntime.InvokeModelInput
	out    *bedrockruntime.InvokeModelOutput
	err    error
}

func (m *mockInvokeAPI) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	m.calls++
	m.lastIn = params
	return m.out, m.err
}

func titanBody(t *testing.T, vec []float32) []byte {
	t.Helper()
	body, err := json.Marshal(titanResponse{Embedding: vec})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestEmbedTitanRequestShape(t *testing.T) {
	mock := &mockInvokeAPI{out: &bedrockruntime.InvokeModelOutput{Body: titanBody(t, []float32{0.1, 0.2})}}
	b := NewBedrock(mock, "amazon.titan-embed-text-v2:0")

	e, err := b.Embed(context.Background(), []byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Vector) != 2 || e.ModelID != "amazon.titan-embed-text-v2:0" {
		t.Fatalf("unexpected embedding: %+v", e)
	}
	if e.ModelDimension != 1024 {
		t.Fatalf("model dimension = %d, want 1024 from the model table", e.ModelDimension)
	}

	var req titanRequest
	if err := json.Unmarshal(mock.lastIn.Body, &req); err != nil {
		t.Fatalf("request body is not a titan request: %v", err)
	}
	if req.InputText != "hello world" {
		t.Fatalf("inputText = %q", req.InputText)
	}
}

func TestEmbedCohereRequestShape(t *testing.T) {
	body, _ := json.Marshal(cohereResponse{Embeddings: [][]float32{{1, 2, 3}}})
	mock := &mockInvokeAPI{out: &bedrockruntime.InvokeModelOutput{Body: body}}
	b := NewBedrock(mock, "cohere.embed-english-v3")

	e, err := b.Embed(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Vector) != 3 {
		t.Fatalf("vector length = %d, want 3", len(e.Vector))
	}

	var req cohereRequest
	if err := json.Unmarshal(mock.lastIn.Body, &req); err != nil {
		t.Fatalf("request body is not a cohere request: %v", err)
	}
	if len(req.Texts) != 1 || req.Texts[0] != "hello" || req.InputType != "search_document" {
		t.Fatalf("unexpected cohere request: %+v", req)
	}
}

func TestEmbedEmptyContentFailsWithoutCalling(t *testing.T) {
	mock := &mockInvokeAPI{}
	b := NewBedrock(mock, "amazon.titan-embed-text-v2:0")

	for _, content := range [][]byte{nil, []byte(""), []byte("   \n\t")} {
		_, err := b.Embed(context.Background(), content)
		var ee *Error
		if !errors.As(err, &ee) || ee.Kind != InvalidInput {
			t.Fatalf("content %q: err = %v, want InvalidInput", content, err)
		}
	}
	if mock.calls != 0 {
		t.Fatalf("model invoked %d times for empty content, want 0", mock.calls)
	}
}

func TestEmbedUnknownModelHasNoDeclaredDimension(t *testing.T) {
	mock := &mockInvokeAPI{out: &bedrockruntime.InvokeModelOutput{Body: titanBody(t, []float32{1})}}
	b := NewBedrock(mock, "amazon.titan-embed-text-v9:experimental")

	e, err := b.Embed(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ModelDimension != 0 {
		t.Fatalf("model dimension = %d, want 0 for unknown model", e.ModelDimension)
	}
}

func TestEmbedClassifiesInvokeFailure(t *testing.T) {
	mock := &mockInvokeAPI{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	b := NewBedrock(mock, "amazon.titan-embed-text-v2:0")

	_, err := b.Embed(context.Background(), []byte("x"))
	var ee *Error
	if !errors.As(err, &ee) || ee.Kind != RateLimited {
		t.Fatalf("err = %v, want RateLimited", err)
	}
}

func TestEmbedEmptyModelResponse(t *testing.T) {
	mock := &mockInvokeAPI{out: &bedrockruntime.InvokeModelOutput{Body: titanBody(t, nil)}}
	b := NewBedrock(mock, "amazon.titan-embed-text-v2:0")

	_, err := b.Embed(context.Background(), []byte("x"))
	var ee *Error
	if !errors.As(err, &ee) || ee.Kind != ServiceUnavailable {
		t.Fatalf("err = %v, want ServiceUnavailable for empty model response", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, RateLimited},
		{"too many requests", &smithy.GenericAPIError{Code: "TooManyRequestsException"}, RateLimited},
		{"quota", &smithy.GenericAPIError{Code: "ServiceQuotaExceededException"}, QuotaExceeded},
		{"unavailable", &smithy.GenericAPIError{Code: "ServiceUnavailableException"}, ServiceUnavailable},
		{"internal", &smithy.GenericAPIError{Code: "InternalServerException"}, ServiceUnavailable},
		{"model timeout", &smithy.GenericAPIError{Code: "ModelTimeoutException"}, TransientNetwork},
		{"expired token", &smithy.GenericAPIError{Code: "ExpiredTokenException", Fault: smithy.FaultClient}, TransientNetwork},
		{"invalid signature", &smithy.GenericAPIError{Code: "InvalidSignatureException", Fault: smithy.FaultClient}, TransientNetwork},
		{"unrecognized client", &smithy.GenericAPIError{Code: "UnrecognizedClientException", Fault: smithy.FaultClient}, TransientNetwork},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException"}, InvalidInput},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, InvalidInput},
		{"missing object", &smithy.GenericAPIError{Code: "NoSuchKey"}, InvalidInput},
		{"unknown client fault", &smithy.GenericAPIError{Code: "SomethingNewException", Fault: smithy.FaultClient}, InvalidInput},
		{"unknown server fault", &smithy.GenericAPIError{Code: "SomethingNewException", Fault: smithy.FaultServer}, ServiceUnavailable},
		{"deadline", context.DeadlineExceeded, TransientNetwork},
		{"plain error", errors.New("connection reset by peer"), TransientNetwork},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got.Kind != tc.want {
				t.Fatalf("Classify(%v).Kind = %s, want %s", tc.err, got.Kind, tc.want)
			}
		})
	}
}

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	orig := &Error{Kind: QuotaExceeded, Err: errors.New("quota")}
	if got := Classify(orig); got != orig {
		t.Fatalf("Classify rewrapped an already classified error: %v", got)
	}
}

func TestErrorRetryable(t *testing.T) {
	for kind, want := range map[Kind]bool{
		RateLimited:        true,
		ServiceUnavailable: true,
		TransientNetwork:   true,
		QuotaExceeded:      true,
		InvalidInput:       false,
	} {
		e := &Error{Kind: kind, Err: errors.New("x")}
		if e.Retryable() != want {
			t.Fatalf("%s retryable = %v, want %v", kind, e.Retryable(), want)
		}
	}
}
