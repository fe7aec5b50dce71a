package httpapi

import "testing"

func TestValidateEndpointRejectsLoopback(t *testing.T) {
	cases := []string{
		"http://localhost:8080",
		"http://127.0.0.1:8080",
		"http://[::1]:8080",
		"http://0.0.0.0:8080",
	}
	for _, c := range cases {
		if err := ValidateEndpoint(c); err == nil {
			t.Errorf("expected %q to be rejected as loopback", c)
		}
	}
}

func TestValidateEndpointRejectsPrivateCIDRs(t *testing.T) {
	cases := []string{
		"http://10.1.2.3:8080",
		"http://192.168.1.5:8080",
		"http://172.16.0.5:8080",
		"http://169.254.1.1:8080",
	}
	for _, c := range cases {
		if err := ValidateEndpoint(c); err == nil {
			t.Errorf("expected %q to be rejected as a private CIDR address", c)
		}
	}
}

func TestValidateEndpointRejectsCloudMetadata(t *testing.T) {
	if err := ValidateEndpoint("http://169.254.169.254/latest/meta-data"); err == nil {
		t.Fatal("expected cloud metadata address to be rejected")
	}
}

func TestValidateEndpointRejectsBadScheme(t *testing.T) {
	cases := []string{"ftp://example.com", "file:///etc/passwd", "not-a-url"}
	for _, c := range cases {
		if err := ValidateEndpoint(c); err == nil {
			t.Errorf("expected %q to be rejected for scheme", c)
		}
	}
}

func TestValidateEndpointAcceptsPublicHTTPS(t *testing.T) {
	if err := ValidateEndpoint("https://claws.example.com:8443/v1"); err != nil {
		t.Fatalf("expected public https endpoint to validate, got %v", err)
	}
}

func TestNormalizeEndpointStripsTrailingSlashQueryFragment(t *testing.T) {
	got, err := NormalizeEndpoint("https://claws.example.com/path/#frag")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "https://claws.example.com/path" {
		t.Fatalf("unexpected normalization: %q", got)
	}

	got2, err := NormalizeEndpoint("https://claws.example.com?x=1")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got2 != "https://claws.example.com" {
		t.Fatalf("unexpected normalization: %q", got2)
	}
}

func TestNormalizeEndpointRejectsInvalid(t *testing.T) {
	if _, err := NormalizeEndpoint("http://localhost"); err == nil {
		t.Fatal("expected normalize to reject a blocked endpoint")
	}
}
