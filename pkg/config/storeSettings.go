package config

// StoreSettings selects the job store backend. The memory store needs no
// further settings.
type StoreSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=memory postgres mongo spanner"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	URI        string `mapstructure:"uri" validate:"required_if=Type mongo,required_if=Type spanner"`
	Database   string `mapstructure:"database" validate:"required_if=Type mongo"`
	Collection string `mapstructure:"collection" validate:"required_if=Type mongo"`
	Table      string `mapstructure:"table" validate:"required_if=Type postgres,required_if=Type spanner"`
}
