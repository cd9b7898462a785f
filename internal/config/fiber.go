package config

import (
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func NewFiber(logger *logrus.Logger) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:           "IntelProd Cap Inspection",
			BodyLimit:         20 * 1024 * 1024,
			DisableKeepalive:  false,
			StrictRouting:     true,
			CaseSensitive:     true,
			EnablePrintRoutes: false,
			JSONEncoder:       jsoniter.Marshal,
			JSONDecoder:       jsoniter.Unmarshal,
			ErrorHandler: func(ctx *fiber.Ctx, err error) error {
				code := fiber.StatusInternalServerError
				if e, ok := err.(*fiber.Error); ok {
					code = e.Code
				}

				logger.WithFields(logrus.Fields{
					"path":   ctx.Path(),
					"method": ctx.Method(),
					"status": code,
					"error":  err.Error(),
				}).Warn("Unhandled request error")

				return ctx.Status(code).JSON(fiber.Map{
					"error": err.Error(),
					"code":  "REQUEST_REJECTED",
				})
			},
		})

	return app
}
