package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager reads a secret for profile values like
// `token: ${AWS_SM:lea/motherduck}`. A `name#field` reference treats
// the secret string as a JSON object and returns that one field, the
// common layout for secrets shared by several tools.
func resolveAWSSecretsManager(ref string) (string, error) {
	name, field, _ := strings.Cut(ref, "#")
	if name == "" {
		return "", fmt.Errorf("AWS Secrets Manager reference %q has no secret name", ref)
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	out, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("reading secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets are not supported)", name)
	}
	if field == "" {
		return *out.SecretString, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object, cannot select field %q: %w", name, field, err)
	}
	val, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("secret %q has no field %q", name, field)
	}
	return val, nil
}
