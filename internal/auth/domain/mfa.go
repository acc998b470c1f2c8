package domain

// MFAEnrollment is returned once by enroll. The secret is also persisted,
// pending activation.
type MFAEnrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"` // data:image/png;base64,...
	Issuer          string `json:"issuer"`
	Account         string `json:"account"`
}
