package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"orca/internal/retry"
)

const (
	EnvDBConnectInfo      = "DB_CONNECT_INFO"
	EnvDBHost             = "DB_HOST"
	EnvDBPort             = "DB_PORT"
	EnvDBUser             = "DB_USER"
	EnvDBPassword         = "DB_PASSWORD"
	EnvDBName             = "DB_NAME"
	EnvDBSSLMode          = "DB_SSLMODE"
	EnvDBStatementTimeout = "DB_STATEMENT_TIMEOUT"

	EnvRetryMaxRetries  = "RETRY_MAX_RETRIES"
	EnvRetryBaseSeconds = "RETRY_BASE_SECONDS"
	EnvRetryFactor      = "RETRY_FACTOR"

	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "require"
	DefaultStatementTimeout = 15 * time.Minute
)

var validate = validator.New()

// DBConnectInfo is the single connection description used by every component
// that talks to the catalog database.
type DBConnectInfo struct {
	Host             string        `json:"host" validate:"required"`
	Port             int           `json:"port" validate:"required,min=1,max=65535"`
	User             string        `json:"user" validate:"required"`
	Password         string        `json:"password" validate:"required"`
	Database         string        `json:"database" validate:"required"`
	SSLMode          string        `json:"sslMode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	StatementTimeout time.Duration `json:"-"`
}

// DSN returns a postgres:// URL suitable for the pgx driver.
func (c DBConnectInfo) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultDBSSLMode
	}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c DBConnectInfo) Validate() error {
	if err := validate.Struct(c); err != nil {
		return ErrorInvalidDBConnectInfo(err)
	}
	return nil
}

// LoadDBConnectInfo reads the connection info from DB_CONNECT_INFO (a JSON
// document as stored in the secrets store) or, when unset, from the
// individual DB_* variables.
func LoadDBConnectInfo() (DBConnectInfo, error) {
	info := DBConnectInfo{
		Port:             DefaultDBPort,
		SSLMode:          DefaultDBSSLMode,
		StatementTimeout: DefaultStatementTimeout,
	}

	if raw := os.Getenv(EnvDBConnectInfo); raw != "" {
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return DBConnectInfo{}, ErrorInvalidDBConnectInfo(err)
		}
	} else {
		info.Host = os.Getenv(EnvDBHost)
		info.User = os.Getenv(EnvDBUser)
		info.Password = os.Getenv(EnvDBPassword)
		info.Database = os.Getenv(EnvDBName)
		if v := os.Getenv(EnvDBSSLMode); v != "" {
			info.SSLMode = v
		}
		if v := os.Getenv(EnvDBPort); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return DBConnectInfo{}, ErrorInvalidSetting(EnvDBPort, v, err)
			}
			info.Port = port
		}
	}

	if v := os.Getenv(EnvDBStatementTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return DBConnectInfo{}, ErrorInvalidSetting(EnvDBStatementTimeout, v, err)
		}
		info.StatementTimeout = d
	}

	if err := info.Validate(); err != nil {
		return DBConnectInfo{}, err
	}
	return info, nil
}

// RetryPolicy builds the retry policy from RETRY_* variables, falling back to
// the package defaults.
func RetryPolicy(logger zerolog.Logger) (retry.Policy, error) {
	p := retry.NewPolicy(logger)

	if v := os.Getenv(EnvRetryMaxRetries); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return p, ErrorInvalidSetting(EnvRetryMaxRetries, v, err)
		}
		p.MaxRetries = uint(n)
	}
	if v := os.Getenv(EnvRetryBaseSeconds); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs < 0 {
			return p, ErrorInvalidSetting(EnvRetryBaseSeconds, v, err)
		}
		p.Base = time.Duration(secs * float64(time.Second))
	}
	if v := os.Getenv(EnvRetryFactor); v != "" {
		factor, err := strconv.ParseFloat(v, 64)
		if err != nil || factor < 1 {
			return p, ErrorInvalidSetting(EnvRetryFactor, v, err)
		}
		p.Factor = factor
	}

	return p, nil
}
