package captcha

import "time"

// DeviceData is the raw client-supplied device attribute payload. Every
// field is optional; missing attributes degrade the fingerprint quality and
// raise the device risk score, they never block the flow.
type DeviceData struct {
	Hardware  HardwareInfo  `json:"hardware"`
	Browser   BrowserInfo   `json:"browser"`
	Rendering RenderingInfo `json:"rendering"`
	Network   NetworkInfo   `json:"network"`
	Behavior  BehaviorInfo  `json:"behavior"`
}

// HardwareInfo holds the physical device characteristics.
type HardwareInfo struct {
	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
	ColorDepth   int     `json:"colorDepth"`
	Platform     string  `json:"platform"`
	CPUCores     int     `json:"cpuCores"`
	DeviceMemory float64 `json:"deviceMemory"` // GB, as reported by the client
	TouchSupport bool    `json:"touchSupport"`
}

// BrowserInfo holds the browser identity attributes.
type BrowserInfo struct {
	UserAgent      string `json:"userAgent"`
	Language       string `json:"language"`
	Vendor         string `json:"vendor"`
	Product        string `json:"product"`
	Timezone       string `json:"timezone"`
	TimezoneOffset int    `json:"timezoneOffset"` // Minutes from UTC
	CookiesEnabled bool   `json:"cookiesEnabled"`
	ClaimsMobile   bool   `json:"claimsMobile"`
}

// RenderingInfo holds the rendering sub-fingerprints.
type RenderingInfo struct {
	CanvasHash    string `json:"canvasHash"`
	WebGLHash     string `json:"webglHash"`
	WebGLVendor   string `json:"webglVendor"`
	WebGLRenderer string `json:"webglRenderer"`
}

// NetworkInfo holds network-level attributes captured server-side.
type NetworkInfo struct {
	IPAddress      string `json:"-"` // Never serialized back to the client
	ConnectionType string `json:"connectionType"`
}

// BehaviorInfo holds behavioral signals collected by the client widget.
type BehaviorInfo struct {
	BotScore        float64 `json:"botScore"` // 0.0 human .. 1.0 bot
	MouseEvents     int     `json:"mouseEvents"`
	KeyEvents       int     `json:"keyEvents"`
	TouchEvents     int     `json:"touchEvents"`
	InteractionTime int64   `json:"interactionTime"` // Milliseconds on the widget
}

// Fingerprint is the canonical digest over the stable device attributes plus
// the component sub-hashes used by collision detection. Persistence is owned
// by the device store; this subsystem only computes and compares it.
type Fingerprint struct {
	Hash              string    `json:"-"`
	CanvasHash        string    `json:"-"`
	HardwareSignature string    `json:"-"`
	Quality           float64   `json:"quality"`
	RiskScore         float64   `json:"riskScore"`
	Fallback          bool      `json:"fallback"`
	CreatedAt         time.Time `json:"createdAt"`
}
