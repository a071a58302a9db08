// Package worker builds the launch profile of the game server.
//
// A Forge server is started as
//
//	java -Xmx<max> -Xms<min> <jvm flags...> -jar <forge jar> nogui
//
// The java binary is looked up in a bundled runtime directory first (a
// portable JRE unpacked next to the server), then on PATH. The jar is the
// first file under the server directory matching the configured pattern.
//
// The package also owns the directory lock that keeps two supervisors from
// driving the same world.
package worker
