// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package labrad

// ManagerID is the server ID of the manager.
const ManagerID = 1

// Setting IDs of the manager.
const (
	SettingServers                   = 1   // _ → *(ws): list servers
	SettingSettings                  = 2   // w → *(ws): list settings of a server
	SettingLookup                    = 3   // s → w, (w*s) → (w*w): resolve names
	SettingExpireContext             = 50  // (ww) or w: expire contexts
	SettingRegisterSetting           = 100 // (ws*s*ss): register a setting
	SettingNotifyOnContextExpiration = 110 // (wb): subscribe to expirations
	SettingStartServing              = 120 // _: begin serving requests
)

// ProtocolVersion is the login protocol version sent during identification.
const ProtocolVersion = 1

// DefaultPort is the default TCP port of the manager.
const DefaultPort = 7682
