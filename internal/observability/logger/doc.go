// Package logger provides the process-wide zap logger and context scoping.
//
// Init is called once from main. Services derive a scoped logger per call:
//
//	log := logger.From(ctx).With(
//	    logger.Layer("service"),
//	    logger.Component("session"),
//	    logger.Op("SignIn"),
//	)
//	log.Info("sign-in succeeded", logger.UserID(id), logger.AppID(appID))
//
// Passwords, refresh token values and provider access tokens are never logged.
package logger
