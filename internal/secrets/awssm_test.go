package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

type fakeSecretsManager struct {
	out *secretsmanager.GetSecretValueOutput
	err error

	region   string
	secretID string
}

func (f *fakeSecretsManager) resolver() *SecretsManagerResolver {
	return &SecretsManagerResolver{
		newClient: func(_ context.Context, region string) (secretsManagerAPI, error) {
			f.region = region
			return f, nil
		},
	}
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.secretID = aws.ToString(in.SecretId)
	return f.out, f.err
}

func TestParseSecretsManagerReference(t *testing.T) {
	tests := []struct {
		ref     string
		want    secretsManagerRef
		wantErr bool
	}{
		{ref: "awssm:///strata/docs", want: secretsManagerRef{secretID: "strata/docs"}},
		{ref: "awssm://eu-west-1/docs", want: secretsManagerRef{region: "eu-west-1", secretID: "docs"}},
		{ref: "awssm:///docs#password", want: secretsManagerRef{secretID: "docs", jsonKey: "password"}},
		{
			ref:  "awssm:///arn:aws:secretsmanager:us-east-1:123456789012:secret:docs-AbCdEf",
			want: secretsManagerRef{secretID: "arn:aws:secretsmanager:us-east-1:123456789012:secret:docs-AbCdEf"},
		},
		{ref: "awssm://eu-west-1", wantErr: true},
		{ref: "awssm:///", wantErr: true},
		{ref: "awssm:///docs#", wantErr: true},
		{ref: "ssm:///docs", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := parseSecretsManagerReference(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSecretsManager_Resolve(t *testing.T) {
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("s3cret")}}

	got, err := fake.resolver().Resolve(context.Background(), "awssm://eu-west-1/strata/docs")
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3cret" {
		t.Errorf("got %q, want s3cret", got)
	}
	if fake.region != "eu-west-1" || fake.secretID != "strata/docs" {
		t.Errorf("called with region %q id %q", fake.region, fake.secretID)
	}
}

func TestSecretsManager_BinarySecret(t *testing.T) {
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("raw")}}
	got, err := fake.resolver().Resolve(context.Background(), "awssm:///docs")
	if err != nil {
		t.Fatal(err)
	}
	if got != "raw" {
		t.Errorf("got %q, want raw", got)
	}
}

func TestSecretsManager_JSONKey(t *testing.T) {
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"password":"s3cret","port":5432}`),
	}}
	r := fake.resolver()

	got, err := r.Resolve(context.Background(), "awssm:///docs#password")
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3cret" {
		t.Errorf("got %q, want s3cret", got)
	}

	_, err = r.Resolve(context.Background(), "awssm:///docs#missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("missing key: expected NotFoundError, got %T", err)
	}

	_, err = r.Resolve(context.Background(), "awssm:///docs#port")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("non-string key: expected InvalidReferenceError, got %T", err)
	}
}

func TestSecretsManager_NotJSON(t *testing.T) {
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("plain")}}
	_, err := fake.resolver().Resolve(context.Background(), "awssm:///docs#password")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidReferenceError, got %T", err)
	}
}

func TestSecretsManager_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		reason   string
	}{
		{name: "not found", err: &types.ResourceNotFoundException{Message: aws.String("no such secret")}, notFound: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "nope"}, reason: "access denied"},
		{name: "expired", err: &smithy.GenericAPIError{Code: "ExpiredTokenException", Message: "expired"}, reason: "AWS credentials expired"},
		{name: "other api", err: &smithy.GenericAPIError{Code: "InternalServiceError", Message: "try again"}, reason: "try again"},
		{name: "transport", err: errors.New("dial tcp: timeout"), reason: "dial tcp: timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSecretsManager{err: tt.err}
			_, err := fake.resolver().Resolve(context.Background(), "awssm:///strata/docs")

			if tt.notFound {
				var nf *NotFoundError
				if !errors.As(err, &nf) {
					t.Fatalf("expected NotFoundError, got %T: %v", err, err)
				}
				if !strings.Contains(nf.Fix, "strata/docs") {
					t.Errorf("Fix should name the secret: %q", nf.Fix)
				}
				return
			}
			var backend *BackendError
			if !errors.As(err, &backend) {
				t.Fatalf("expected BackendError, got %T: %v", err, err)
			}
			if backend.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", backend.Reason, tt.reason)
			}
			if !errors.Is(err, tt.err) {
				t.Error("BackendError should wrap the SDK error")
			}
		})
	}
}

func TestSecretsManager_ConfigFailure(t *testing.T) {
	boom := errors.New("no profile")
	r := &SecretsManagerResolver{newClient: func(context.Context, string) (secretsManagerAPI, error) { return nil, boom }}
	_, err := r.Resolve(context.Background(), "awssm:///docs")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
