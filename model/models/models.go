// Package models registriert alle eingebauten Suchraeume per Blank-Import
package models

import (
	_ "github.com/archsearch/nas/model/models/cellnet"
	_ "github.com/archsearch/nas/model/models/randwire"
)
