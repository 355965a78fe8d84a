package knowledge

import "strings"

// Service is one entry of the fixed service catalogue.
type Service struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timeline    string `json:"timeline"`
	Contact     string `json:"contact"`
}

// Ordered so partial matches resolve deterministically.
var services = []Service{
	{
		Key:         "soc2",
		Title:       "SOC 2 Compliance",
		Description: "We help organizations achieve SOC 2 Type I and Type II certification. Our experts guide you through gap assessments, control implementation, and audit preparation.",
		Timeline:    "3-6 months typical",
		Contact:     "sales@cyberguardng.ca",
	},
	{
		Key:         "iso27001",
		Title:       "ISO 27001 Certification",
		Description: "Complete ISO 27001 implementation and certification support. We help establish your Information Security Management System (ISMS) aligned with international standards.",
		Timeline:    "6-12 months typical",
		Contact:     "sales@cyberguardng.ca",
	},
	{
		Key:         "pcidss",
		Title:       "PCI DSS Compliance",
		Description: "Payment Card Industry Data Security Standard compliance for businesses handling credit card data. We provide gap assessments, remediation, and validation support.",
		Timeline:    "2-4 months typical",
		Contact:     "sales@cyberguardng.ca",
	},
	{
		Key:         "incident-response",
		Title:       "Incident Response",
		Description: "24/7 emergency incident response for security breaches, ransomware attacks, and data compromises. Our team provides rapid containment, forensics, and recovery.",
		Timeline:    "Immediate response",
		Contact:     "emergency@cyberguardng.ca (available 24/7)",
	},
	{
		Key:         "pentest",
		Title:       "Penetration Testing",
		Description: "Comprehensive security assessments including network, web application, API, and cloud infrastructure testing. We identify vulnerabilities before attackers do.",
		Timeline:    "1-2 weeks typical",
		Contact:     "sales@cyberguardng.ca",
	},
	{
		Key:         "vciso",
		Title:       "Virtual CISO Services",
		Description: "Fractional CISO services providing executive-level security leadership without full-time costs. We develop strategy, manage programs, and provide board-level reporting.",
		Timeline:    "Ongoing monthly retainer",
		Contact:     "sales@cyberguardng.ca",
	},
}

// Services returns a copy of the catalogue.
func Services() []Service {
	out := make([]Service, len(services))
	copy(out, services)
	return out
}

// LookupService resolves a spoken service name, trying an exact match on the
// normalised key first and then a containment match in either direction.
func LookupService(name string) (Service, bool) {
	normalized := normalizeServiceName(name)
	if normalized == "" {
		return Service{}, false
	}
	for _, svc := range services {
		if normalizeServiceName(svc.Key) == normalized {
			return svc, true
		}
	}
	for _, svc := range services {
		key := normalizeServiceName(svc.Key)
		if strings.Contains(key, normalized) || strings.Contains(normalized, key) {
			return svc, true
		}
	}
	return Service{}, false
}

func normalizeServiceName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
