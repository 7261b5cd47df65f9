// Package mysql holds the MySQL connection pool helper and the embedded
// schema migrations shared by the MySQL-backed query task store.
package mysql
