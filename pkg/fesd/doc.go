// Package fesd holds the device model shared by the front-end serial driver:
// the error taxonomy, discovered device records, the device registry and
// port list parsing.
//
// Sessions live in the session subpackage; family specific commanders live in
// their own subpackages (sc2470).
package fesd
