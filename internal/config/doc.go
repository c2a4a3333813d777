// Package config loads everything plugctl needs before it talks to a device:
// the YAML settings file, the dotenv file and the DEVICE_LIST registry.
//
// DEVICE_LIST holds semicolon separated "nickname,id,key" triples.
package config
