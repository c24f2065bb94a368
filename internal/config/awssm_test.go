package config

import "testing"

func TestResolveAWSSecretsManagerRequiresName(t *testing.T) {
	// Reference validation happens before any AWS call, so these fail
	// without credentials or network.
	for _, ref := range []string{"", "#token"} {
		if _, err := resolveAWSSecretsManager(ref); err == nil {
			t.Errorf("expected error for reference %q", ref)
		}
	}
}

func TestResolveValueDispatchesAWSSM(t *testing.T) {
	// A field-only reference is rejected inside the AWS resolver,
	// proving ${AWS_SM:...} values route there.
	if _, err := ResolveValue("${AWS_SM:#token}"); err == nil {
		t.Error("expected error for a reference with no secret name")
	}
}
