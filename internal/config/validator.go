package config

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// placeholderPattern matches a {name} placeholder inside a template.
var placeholderPattern = regexp.MustCompile(`\{([^{}/]*)\}`)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	mustRegister("pathtemplate", validatePathTemplateTag)
	mustRegister("lbstrategy", validateLoadBalancerTag)
	mustRegister("httpmethod", validateHTTPMethodTag)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Validate checks a configuration after ApplyDefaults. Field-level
// problems are reported together as a *util.ValidationError; a
// downstream placeholder missing upstream is reported as a
// *util.InconsistencyError.
func Validate(cfg *GatewayConfig) error {
	if cfg == nil {
		return util.NewConfigError("", "configuration is nil")
	}

	verr := util.NewValidationError("invalid gateway configuration")

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return util.NewConfigErrorWithCause("", "validation failed", err)
		}
		for _, fe := range fieldErrs {
			verr.AddField(fieldPath(fe), validationMessage(fe))
		}
	}

	validateServices(cfg.Spec.Services, verr)
	validateRoutes(cfg, verr)

	if verr.HasErrors() {
		return verr
	}

	for i := range cfg.Spec.Routes {
		if err := CheckPlaceholders(&cfg.Spec.Routes[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateServices(services []ServiceConfig, verr *util.ValidationError) {
	seen := make(map[string]bool, len(services))
	for i, svc := range services {
		if svc.Name == "" {
			continue
		}
		if seen[svc.Name] {
			verr.AddField(fmt.Sprintf("spec.services[%d].name", i), "duplicate service name: "+svc.Name)
		}
		seen[svc.Name] = true
	}
}

func validateRoutes(cfg *GatewayConfig, verr *util.ValidationError) {
	names := make(map[string]bool, len(cfg.Spec.Routes))
	for i := range cfg.Spec.Routes {
		route := &cfg.Spec.Routes[i]
		path := fmt.Sprintf("spec.routes[%d]", i)

		if names[route.Name] {
			verr.AddField(path+".name", "duplicate route name: "+route.Name)
		}
		names[route.Name] = true

		if route.ServiceName == "" && len(route.DownstreamHostAndPorts) == 0 {
			verr.AddField(path+".serviceName", "either serviceName or downstreamHostAndPorts is required")
		}

		if err := checkUpstreamSegments(route.UpstreamPathTemplate); err != nil {
			verr.AddField(path+".upstreamPathTemplate", err.Error())
		}

		if route.QoS != nil && route.QoS.HasBreaker() && route.QoS.DurationOfBreak <= 0 {
			verr.AddField(path+".qos.durationOfBreak", "must be positive when exceptionsAllowedBeforeBreaking is set")
		}

		if route.Cache != nil && route.Cache.TTL <= 0 {
			verr.AddField(path+".cache.ttl", "must be positive")
		}
	}
}

// checkUpstreamSegments enforces that every placeholder in an upstream
// template is a whole segment and that names do not repeat.
func checkUpstreamSegments(template string) error {
	seen := make(map[string]bool)
	for _, segment := range strings.Split(strings.Trim(template, "/"), "/") {
		if !strings.ContainsAny(segment, "{}") {
			continue
		}
		if len(segment) < 3 || segment[0] != '{' || segment[len(segment)-1] != '}' ||
			strings.ContainsAny(segment[1:len(segment)-1], "{}") {
			return fmt.Errorf("segment %q must be a literal or a single {name} placeholder", segment)
		}
		name := segment[1 : len(segment)-1]
		if seen[name] {
			return fmt.Errorf("placeholder {%s} appears more than once", name)
		}
		seen[name] = true
	}
	return nil
}

// Placeholders returns the placeholder names found in a template, in
// order of first appearance.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// CheckPlaceholders verifies that every downstream placeholder of the
// route is captured by its upstream template.
func CheckPlaceholders(route *RouteConfig) error {
	upstream := make(map[string]bool)
	for _, name := range Placeholders(route.UpstreamPathTemplate) {
		upstream[name] = true
	}
	for _, name := range Placeholders(route.DownstreamPathTemplate) {
		if !upstream[name] {
			return util.NewInconsistencyError(route.Name, name)
		}
	}
	return nil
}

func validatePathTemplateTag(fl validator.FieldLevel) bool {
	template := fl.Field().String()
	if !strings.HasPrefix(template, "/") {
		return false
	}
	if strings.Count(template, "{") != strings.Count(template, "}") {
		return false
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if m[1] == "" {
			return false
		}
	}
	return true
}

func validateLoadBalancerTag(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case LoadBalancerNone, LoadBalancerRoundRobin, LoadBalancerLeastConnection:
		return true
	}
	return false
}

func validateHTTPMethodTag(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodConnect, http.MethodTrace:
		return true
	}
	return false
}

// fieldPath strips the root type name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "field is required"
	case "eq":
		return fmt.Sprintf("must be %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be > %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "pathtemplate":
		return "must start with / and contain only well-formed {name} placeholders"
	case "lbstrategy":
		return "must be one of: None RoundRobin LeastConnection"
	case "httpmethod":
		return "must be an HTTP method"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}
