package dcschema

// NumAvatarSlots is the width of ACCOUNT_AV_SET: how many avatar slots an
// account has (spec.md §4.7).
const NumAvatarSlots = 6

// NewDefaultSchema builds the compiled schema for the two dclasses this
// implementation persists: Account and DistributedToon. The full DC file
// is an out-of-scope external collaborator (spec.md §1); these are the
// fields the operation FSMs actually read and write.
func NewDefaultSchema() *Schema {
	s := NewSchema()
	s.Register(AccountClass())
	s.Register(DistributedToonClass())
	return s
}

// AccountClass describes the Account dclass.
func AccountClass() *Class {
	return NewClass("Account", []Field{
		{Index: 0, Name: "ACCOUNT_AV_SET", Codec: Uint32ArrayCodec(NumAvatarSlots)},
		{Index: 1, Name: "BLAST_NAME", Codec: StringCodec},
		{Index: 2, Name: "CREATED", Codec: Uint32Codec},
	})
}

// DistributedToonClass describes the DistributedToon dclass.
func DistributedToonClass() *Class {
	return NewClass("DistributedToon", []Field{
		{Index: 0, Name: "setName", Codec: StringCodec},
		{Index: 1, Name: "setDNAString", Codec: BlobCodec},
		{Index: 2, Name: "setPosition", Codec: BlobCodec},
		{Index: 3, Name: "setFriendsList", Codec: Uint32ListCodec},
		{Index: 4, Name: "setWishNameState", Codec: StringCodec},
		{Index: 5, Name: "setHoodsVisited", Codec: Uint32ListCodec},
		{Index: 6, Name: "setLastHood", Codec: Uint32Codec},
		{Index: 7, Name: "setDefaultZone", Codec: Uint32Codec},
	})
}
