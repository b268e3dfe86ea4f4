package router

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"usersvc/docs"
	"usersvc/internal/config"
	"usersvc/internal/handler"
	"usersvc/internal/logger"
	"usersvc/internal/metrics"
	"usersvc/internal/model"
)

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	cfg *config.Config,
	log *zap.Logger,
	m *metrics.Metrics,
	userHandler *handler.UserHandler,
	authHandler *handler.AuthHandler,
	infoHandler *handler.InfoHandler,
) {
	if log == nil {
		log = zap.NewNop()
	}

	e.Use(middleware.RequestID())
	e.Use(scopedLogger(log))
	e.Use(requestLogger(log))
	e.Use(middleware.Recover())
	if m != nil {
		e.Use(m.Middleware())
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	e.Validator = &CustomValidator{}

	if cfg != nil && cfg.SwaggerHost != "" {
		docs.SwaggerInfo.Host = cfg.SwaggerHost
	}

	e.GET("/healthz", infoHandler.Healthz)
	e.GET("/info", infoHandler.Info)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	e.POST("/users", userHandler.CreateUser)
	e.POST("/users/", userHandler.CreateUser)
	e.POST("/users/authenticate", authHandler.Authenticate)

	e.GET("/users", userHandler.ReadUsers)
	e.GET("/users/", userHandler.ReadUsers)
	e.PUT("/users/", userHandler.UpdateUserByID)
	e.DELETE("/users/", userHandler.DeleteUserByID)

	e.GET("/users/:username", userHandler.GetUserByUsername)
	e.PUT("/users/:username", userHandler.UpdateUser)
	e.DELETE("/users/:username", userHandler.DeleteUser)
}

// scopedLogger attaches a logger carrying the request id to the request
// context, so lower layers log with it through logger.From.
func scopedLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			l := base.With(zap.String("request_id", rid))
			req := c.Request()
			c.SetRequest(req.WithContext(logger.ToContext(req.Context(), l)))
			return next(c)
		}
	}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			switch {
			case v.Status >= 500:
				if v.Error != nil {
					fields = append(fields, zap.Error(v.Error))
				}
				log.Error("request", fields...)
			case v.Status >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
			return nil
		},
	})
}

// CustomValidator runs the model validation rules for echo.
type CustomValidator struct{}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return model.Validate(i)
}
