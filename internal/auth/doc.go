// Package auth 为 HTTP API 提供可选的静态 Bearer 令牌认证与按方法授权。
package auth
