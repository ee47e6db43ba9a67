package config

const (
	MaxContentBytes = 1 * 1024 * 1024 // 1MB of report text
	MaxSubmitBytes  = 64 * 1024       // proof bundle + public inputs
	MaxAdminBytes   = 4 * 1024
	MaxTags         = 16
	MaxTagLen       = 64
)
