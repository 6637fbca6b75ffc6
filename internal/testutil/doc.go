// Package testutil contains helper builders and controllable services used
// across tests to reduce boilerplate when constructing requests and
// asserting scheduling behavior. They are not intended for production usage.
package testutil
