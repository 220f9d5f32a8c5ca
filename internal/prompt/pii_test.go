package prompt

import (
	"testing"
)

func TestDetectPII(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		expectedTypes []PIIType
	}{
		{
			name:          "no PII",
			text:          "What is the weather like today?",
			expectedTypes: nil,
		},
		{
			name:          "single email",
			text:          "Contact me at john.doe@example.com for more info",
			expectedTypes: []PIIType{PIITypeEmail},
		},
		{
			name:          "multiple emails",
			text:          "Email user1@test.com or user2@test.org",
			expectedTypes: []PIIType{PIITypeEmail, PIITypeEmail},
		},
		{
			name:          "phone number US format",
			text:          "Call (555) 123-4567",
			expectedTypes: []PIIType{PIITypePhone},
		},
		{
			name:          "SSN with dashes",
			text:          "My SSN is 123-45-6789",
			expectedTypes: []PIIType{PIITypeSSN},
		},
		{
			name:          "SSN starting with 9 is not flagged",
			text:          "Reference 912-34-5678",
			expectedTypes: nil,
		},
		{
			name:          "valid credit card",
			text:          "Use card 4532015112830366",
			expectedTypes: []PIIType{PIITypeCreditCard},
		},
		{
			name:          "card failing Luhn is not flagged",
			text:          "Use card 4532015112830367",
			expectedTypes: nil,
		},
		{
			name:          "IPv4 address",
			text:          "Server at 192.168.1.100",
			expectedTypes: []PIIType{PIITypeIPAddress},
		},
		{
			name:          "mixed types in detector order",
			text:          "Email: admin@test.com, Phone: 555-123-9999, IP: 10.0.0.1",
			expectedTypes: []PIIType{PIITypeEmail, PIITypePhone, PIITypeIPAddress},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detections := DetectPII(tt.text, nil)
			if len(detections) != len(tt.expectedTypes) {
				t.Fatalf("DetectPII() found %d detections, want %d: %+v", len(detections), len(tt.expectedTypes), detections)
			}
			for i, expected := range tt.expectedTypes {
				if detections[i].Type != expected {
					t.Errorf("detection %d: got type %v, want %v", i, detections[i].Type, expected)
				}
			}
		})
	}
}

func TestDetectPII_TypeFilter(t *testing.T) {
	text := "Email: admin@test.com, IP: 10.0.0.1"

	t.Run("restricted to email", func(t *testing.T) {
		detections := DetectPII(text, []string{"email"})
		if len(detections) != 1 || detections[0].Type != PIITypeEmail {
			t.Errorf("expected one email detection, got %+v", detections)
		}
	})

	t.Run("restricted to ip_address", func(t *testing.T) {
		detections := DetectPII(text, []string{"ip_address"})
		if len(detections) != 1 || detections[0].Type != PIITypeIPAddress {
			t.Errorf("expected one ip detection, got %+v", detections)
		}
	})

	t.Run("empty list means all types", func(t *testing.T) {
		detections := DetectPII(text, nil)
		if len(detections) != 2 {
			t.Errorf("expected two detections, got %+v", detections)
		}
	})
}

func TestRedactPII(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "no PII",
			text:     "Hello world",
			expected: "Hello world",
		},
		{
			name:     "redact email",
			text:     "Contact user@example.com for help",
			expected: "Contact [EMAIL_REDACTED] for help",
		},
		{
			name:     "redact phone",
			text:     "Call 555-123-4567 today",
			expected: "Call [PHONE_REDACTED] today",
		},
		{
			name:     "redact SSN",
			text:     "SSN: 123-45-6789",
			expected: "SSN: [SSN_REDACTED]",
		},
		{
			name:     "redact credit card",
			text:     "Card number: 4532015112830366",
			expected: "Card number: [CC_REDACTED]",
		},
		{
			name:     "redact IP",
			text:     "Server at 192.168.1.1",
			expected: "Server at [IP_REDACTED]",
		},
		{
			name:     "redact multiple",
			text:     "Email: admin@test.com, IP: 10.0.0.1",
			expected: "Email: [EMAIL_REDACTED], IP: [IP_REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _ := RedactPII(tt.text, nil)
			if result != tt.expected {
				t.Errorf("RedactPII() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRedactPII_ReportsDetections(t *testing.T) {
	_, detections := RedactPII("Email admin@test.com from 10.0.0.1", nil)
	if len(detections) != 2 {
		t.Fatalf("expected 2 applied redactions, got %+v", detections)
	}
	if detections[0].Type != PIITypeEmail || detections[1].Type != PIITypeIPAddress {
		t.Errorf("unexpected detection order: %+v", detections)
	}
}

func TestCollapseOverlaps(t *testing.T) {
	detections := []PIIDetection{
		{Type: PIITypePhone, StartPos: 5, EndPos: 17},
		{Type: PIITypePhone, StartPos: 5, EndPos: 17},
		{Type: PIITypeSSN, StartPos: 10, EndPos: 20},
		{Type: PIITypeEmail, StartPos: 30, EndPos: 40},
	}

	kept := collapseOverlaps(detections)
	if len(kept) != 2 {
		t.Fatalf("expected overlapping spans collapsed to 2, got %d: %+v", len(kept), kept)
	}
	if kept[0].StartPos != 5 || kept[1].StartPos != 30 {
		t.Errorf("unexpected kept spans: %+v", kept)
	}
}

func TestIsKnownPIIType(t *testing.T) {
	for _, name := range []string{"email", "phone", "ssn", "credit_card", "ip_address"} {
		if !IsKnownPIIType(name) {
			t.Errorf("IsKnownPIIType(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"passport", "EMAIL", ""} {
		if IsKnownPIIType(name) {
			t.Errorf("IsKnownPIIType(%q) = true, want false", name)
		}
	}
}

func TestLuhnCheck(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{"valid Visa", "4532015112830366", true},
		{"valid MasterCard", "5425233430109903", true},
		{"valid Amex", "374245455400126", true},
		{"invalid checksum", "4532015112830367", false},
		{"too short", "123456", false},
		{"too long", "12345678901234567890", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := luhnCheck(tt.number); got != tt.valid {
				t.Errorf("luhnCheck(%s) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestValidSSNCandidate(t *testing.T) {
	tests := []struct {
		name  string
		ssn   string
		valid bool
	}{
		{"valid bare digits", "123456789", true},
		{"valid with dashes", "123-45-6789", true},
		{"starts with 000", "000123456", false},
		{"middle 00", "123001234", false},
		{"ends with 0000", "123450000", false},
		{"starts with 666", "666123456", false},
		{"starts with 9", "912345678", false},
		{"wrong length", "12345678", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validSSNCandidate(tt.ssn); got != tt.valid {
				t.Errorf("validSSNCandidate(%s) = %v, want %v", tt.ssn, got, tt.valid)
			}
		})
	}
}

func BenchmarkRedactPII(b *testing.B) {
	text := "Email: admin@test.com, Phone: 555-123-9999, SSN: 123-45-6789, Card: 4532015112830366"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RedactPII(text, nil)
	}
}
