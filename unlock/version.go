package unlock

const Version = "v0.4.2"
