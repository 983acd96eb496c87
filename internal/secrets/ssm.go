package secrets

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

const ssmBackend = "AWS SSM"

// SSMResolver reads SecureString parameters from AWS Systems Manager
// Parameter Store through the aws CLI, so the CLI's profile and SSO
// configuration apply unchanged.
type SSMResolver struct {
	run commandRunner
}

// Scheme returns "ssm".
func (r *SSMResolver) Scheme() string { return "ssm" }

// Resolve fetches and decrypts the parameter named by reference.
func (r *SSMResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	region, name, err := parseSSMReference(reference)
	if err != nil {
		return "", err
	}

	args := []string{
		"ssm", "get-parameter",
		"--name", name,
		"--with-decryption",
		"--query", "Parameter.Value",
		"--output", "text",
	}
	if region != "" {
		args = append(args, "--region", region)
	}

	run := r.run
	if run == nil {
		run = runCommand
	}
	stdout, stderr, err := run(ctx, "aws", args...)
	if errors.Is(err, errCLIMissing) {
		return "", &BackendError{
			Backend:   ssmBackend,
			Reference: reference,
			Reason:    "aws CLI not found in PATH",
			Fix:       "Install it from https://aws.amazon.com/cli/",
		}
	}
	if err != nil {
		return "", r.parseError(stderr, reference, name)
	}
	return trimValue(stdout), nil
}

// parseSSMReference splits ssm://[region]/path into its parts:
//
//	ssm:///strata/docs         -> ("", "/strata/docs")
//	ssm://eu-west-1/strata/docs -> ("eu-west-1", "/strata/docs")
func parseSSMReference(ref string) (region, name string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "not a valid URI"}
	}
	if u.Scheme != "ssm" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected ssm:// scheme"}
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "missing parameter name"}
	}
	return u.Host, u.Path, nil
}

func ssmRules(name string) []errorRule {
	backend := func(reason, fix string) func(string) error {
		return func(ref string) error {
			return &BackendError{Backend: ssmBackend, Reference: ref, Reason: reason, Fix: fix}
		}
	}
	return []errorRule{
		{
			match: []string{"ParameterNotFound"},
			build: func(ref string) error {
				return &NotFoundError{
					Reference: ref,
					Backend:   ssmBackend,
					Fix:       "Create it with: aws ssm put-parameter --type SecureString --name " + name + " --value <password>",
				}
			},
		},
		{
			match: []string{"AccessDeniedException"},
			build: backend("access denied", "Grant ssm:GetParameter (and kms:Decrypt) on "+name),
		},
		{
			match: []string{"ExpiredToken"},
			build: backend("AWS credentials expired", "Run: aws sso login, or refresh your credentials."),
		},
		{
			match: []string{"Unable to locate credentials"},
			build: backend("no AWS credentials found", "Run: aws configure, or set AWS_PROFILE."),
		},
		{
			match: []string{"Could not connect to the endpoint URL"},
			build: backend("could not reach the AWS endpoint", "Check the region in the reference and your network."),
		},
	}
}

func (r *SSMResolver) parseError(stderr []byte, reference, name string) error {
	if err := classify(ssmRules(name), stderr, reference); err != nil {
		return err
	}
	return &BackendError{
		Backend:   ssmBackend,
		Reference: reference,
		Reason:    strings.TrimSpace(string(stderr)),
	}
}
