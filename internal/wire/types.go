package wire

import "fmt"

// DeviceSummary is the short device-identity block the worker may attach to
// any envelope.
type DeviceSummary struct {
	Label    string `json:"label,omitempty"`
	Model    string `json:"model,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

// DeviceFeatures is a snapshot of the connected device, produced per
// getFeatures call and never cached across calls.
type DeviceFeatures struct {
	Vendor               string   `json:"vendor"`
	Model                string   `json:"model"`
	Label                string   `json:"label,omitempty"`
	DeviceID             string   `json:"deviceId"`
	MajorVersion         int      `json:"majorVersion"`
	MinorVersion         int      `json:"minorVersion"`
	PatchVersion         int      `json:"patchVersion"`
	PinProtection        bool     `json:"pinProtection"`
	PassphraseProtection bool     `json:"passphraseProtection"`
	Initialized          bool     `json:"initialized"`
	Unlocked             bool     `json:"unlocked"`
	Capabilities         []string `json:"capabilities,omitempty"`
}

// FirmwareVersion renders the firmware version as "major.minor.patch".
func (f DeviceFeatures) FirmwareVersion() string {
	return fmt.Sprintf("%d.%d.%d", f.MajorVersion, f.MinorVersion, f.PatchVersion)
}

// AddressInfo is the payload of a getAddress response.
type AddressInfo struct {
	// Path holds the numeric derivation path components.
	Path []uint32 `json:"path"`

	// SerializedPath is the canonical string form of Path.
	SerializedPath string `json:"serializedPath"`

	// Address is the resulting address string.
	Address string `json:"address"`
}

// PublicKeyInfo is the payload of a getPublicKey response.
type PublicKeyInfo struct {
	Path           []uint32 `json:"path"`
	SerializedPath string   `json:"serializedPath"`
	ChildNum       uint32   `json:"childNum"`
	Xpub           string   `json:"xpub"`
	ChainCode      string   `json:"chainCode"`
	PublicKey      string   `json:"publicKey"`
	Fingerprint    uint32   `json:"fingerprint"`
	Depth          int      `json:"depth"`
	Descriptor     string   `json:"descriptor,omitempty"`

	// XpubSegwit is the segwit-variant extended key, when the coin has one.
	XpubSegwit string `json:"xpubSegwit,omitempty"`
}
