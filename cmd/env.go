package cmd

import (
	"github.com/spf13/viper"
)

// env exposes the environment knobs under stable keys so commands read
// configuration the same way regardless of which variable supplied it.
var env = viper.New()

func init() {
	bind := func(key string, vars ...string) {
		if err := env.BindEnv(append([]string{key}, vars...)...); err != nil {
			panic(err)
		}
	}
	bind("login_all", "AWS_SSO_LOGIN_ALL")
	bind("role_name", "AWS_SSO_ROLE_NAME")
	bind("account_id", "AWS_SSO_ACCOUNT_ID")
	bind("start_url", "AWS_SSO_START_URL")
	bind("sso_region", "AWS_SSO_REGION")
	bind("credential_process_debug", "AWS_SSO_CREDENTIAL_PROCESS_DEBUG")
	bind("console_logout_first", "AWS_CONSOLE_LOGOUT_FIRST")
	bind("console_default_duration", "AWS_CONSOLE_DEFAULT_SESSION_DURATION")
	bind("console_default_destination", "AWS_CONSOLE_DEFAULT_DESTINATION")
	bind("console_default_region", "AWS_CONSOLE_DEFAULT_REGION")
	bind("console_default_issuer", "AWS_CONSOLE_DEFAULT_ISSUER")
}
