/*
Package main contains a command-line chat example for gxlink.

The example shows how to:
  - configure a link from command-line flags, including the line terminator
    (-e, Go escapes such as \r\n) and the read timeout (-r)
  - register link callbacks (state, error, receive) and port tracing
  - send every line read from the standard input
  - measure the line with the /ping command
*/
package main
