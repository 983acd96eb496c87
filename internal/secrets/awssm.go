package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

const secretsManagerBackend = "AWS Secrets Manager"

// secretsManagerAPI is the part of *secretsmanager.Client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver reads awssm:// references with the AWS SDK using
// the default credential chain.
//
//	awssm:///strata/docs                 secret in the default region
//	awssm://eu-west-1/strata/docs        secret in eu-west-1
//	awssm:///strata/docs#password        one key of a JSON secret
//
// The secret id may also be a full ARN.
type SecretsManagerResolver struct {
	newClient func(ctx context.Context, region string) (secretsManagerAPI, error)
}

// Scheme returns "awssm".
func (r *SecretsManagerResolver) Scheme() string { return "awssm" }

// Resolve fetches the current version of the secret.
func (r *SecretsManagerResolver) Resolve(ctx context.Context, reference string) (string, error) {
	ref, err := parseSecretsManagerReference(reference)
	if err != nil {
		return "", err
	}

	newClient := r.newClient
	if newClient == nil {
		newClient = defaultSecretsManagerClient
	}
	client, err := newClient(ctx, ref.region)
	if err != nil {
		return "", &BackendError{
			Backend:   secretsManagerBackend,
			Reference: reference,
			Reason:    "loading AWS configuration failed",
			Fix:       "Run: aws configure, or set AWS_PROFILE.",
			Err:       err,
		}
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.secretID),
	})
	if err != nil {
		return "", secretsManagerError(err, reference, ref.secretID)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	}
	if ref.jsonKey == "" {
		return value, nil
	}
	return jsonField(value, ref.jsonKey, reference)
}

func defaultSecretsManagerClient(ctx context.Context, region string) (secretsManagerAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

type secretsManagerRef struct {
	region   string
	secretID string
	jsonKey  string
}

func parseSecretsManagerReference(ref string) (secretsManagerRef, error) {
	rest, ok := strings.CutPrefix(ref, "awssm://")
	if !ok {
		return secretsManagerRef{}, &InvalidReferenceError{Reference: ref, Reason: "expected awssm:// scheme"}
	}
	var out secretsManagerRef
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		out.jsonKey = rest[i+1:]
		rest = rest[:i]
		if out.jsonKey == "" {
			return secretsManagerRef{}, &InvalidReferenceError{Reference: ref, Reason: "empty JSON key after #"}
		}
	}
	region, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return secretsManagerRef{}, &InvalidReferenceError{Reference: ref, Reason: "expected awssm://[region]/secret-id"}
	}
	out.region = region
	out.secretID = id
	return out, nil
}

func jsonField(secret, key, reference string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(secret), &fields); err != nil {
		return "", &InvalidReferenceError{Reference: reference, Reason: "secret is not a JSON object, drop the #" + key + " suffix"}
	}
	v, ok := fields[key]
	if !ok {
		return "", &NotFoundError{Reference: reference, Backend: secretsManagerBackend, Fix: "The secret has no key \"" + key + "\"."}
	}
	s, ok := v.(string)
	if !ok {
		return "", &InvalidReferenceError{Reference: reference, Reason: fmt.Sprintf("key %q is not a string", key)}
	}
	return s, nil
}

func secretsManagerError(err error, reference, secretID string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &NotFoundError{
			Reference: reference,
			Backend:   secretsManagerBackend,
			Fix:       "Create it with: aws secretsmanager create-secret --name " + secretID + " --secret-string <password>",
		}
	}

	be := &BackendError{Backend: secretsManagerBackend, Reference: reference, Reason: err.Error(), Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException":
			be.Reason = "access denied"
			be.Fix = "Grant secretsmanager:GetSecretValue on " + secretID
		case "ExpiredTokenException", "ExpiredToken":
			be.Reason = "AWS credentials expired"
			be.Fix = "Run: aws sso login, or refresh your credentials."
		case "DecryptionFailure":
			be.Reason = "the secret's KMS key could not decrypt it"
			be.Fix = "Grant kms:Decrypt on the key protecting " + secretID
		default:
			be.Reason = apiErr.ErrorMessage()
		}
	}
	return be
}
